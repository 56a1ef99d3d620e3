package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSearchCondition(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{"postgres", `(plant_name ILIKE ? ESCAPE '\' OR scientific_name ILIKE ? ESCAPE '\')`},
		{"sqlite", `(LOWER(plant_name) LIKE ? ESCAPE '\' OR LOWER(scientific_name) LIKE ? ESCAPE '\')`},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			assert.Equal(t, tt.want, searchCondition(tt.dialect))
		})
	}
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% \_off\\`, escapeLike(`50% _off\`))
}
