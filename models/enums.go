package models

// PlantType 植物的生長型態
type PlantType string

const (
	PlantTypeHerb    PlantType = "herb"
	PlantTypeShrub   PlantType = "shrub"
	PlantTypeTree    PlantType = "tree"
	PlantTypeClimber PlantType = "climber"
	PlantTypeCreeper PlantType = "creeper"
)

// PlantStatus 植物目前的狀態
type PlantStatus string

const (
	PlantStatusAlive     PlantStatus = "alive"
	PlantStatusDead      PlantStatus = "dead"
	PlantStatusSick      PlantStatus = "sick"
	PlantStatusFlowering PlantStatus = "flowering"
)

// Lighting 偏好的光照條件
type Lighting string

const (
	LightingFullSun       Lighting = "full_sun"
	LightingPartialSun    Lighting = "partial_sun"
	LightingIndirectLight Lighting = "indirect_light"
	LightingLowLight      Lighting = "low_light"
)

// Humidity 偏好的濕度
type Humidity string

const (
	HumidityDry    Humidity = "dry"
	HumidityNormal Humidity = "normal"
	HumidityHumid  Humidity = "humid"
)

// Temperature 偏好的溫度
type Temperature string

const (
	TemperatureCool     Temperature = "cool"
	TemperatureModerate Temperature = "moderate"
	TemperatureWarm     Temperature = "warm"
)
