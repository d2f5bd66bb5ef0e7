package boltwood

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sensorsWith(data map[string]any) *Report {
	rep := newReport(SensorsReport)
	for k, v := range data {
		rep.Data[k] = v
	}
	return rep
}

func TestAverageSensors(t *testing.T) {
	assert := assert.New(t)

	t.Run("arithmetic mean per column", func(t *testing.T) {
		avg := AverageSensors([]*Report{
			sensorsWith(map[string]any{"ambientTemperature": 10.0, "windSpeed": 1.0}),
			sensorsWith(map[string]any{"ambientTemperature": 20.0, "windSpeed": 2.0}),
			sensorsWith(map[string]any{"ambientTemperature": 30.0, "windSpeed": 6.0}),
		})

		ambient, ok := avg.Float("ambientTemperature")
		assert.True(ok)
		assert.InDelta(20.0, ambient, 1e-9)

		wind, ok := avg.Float("windSpeed")
		assert.True(ok)
		assert.InDelta(3.0, wind, 1e-9)
	})

	t.Run("int columns contribute to the mean", func(t *testing.T) {
		avg := AverageSensors([]*Report{
			sensorsWith(map[string]any{"relativeHumidityPercentage": 30}),
			sensorsWith(map[string]any{"relativeHumidityPercentage": 41}),
		})

		humidity, ok := avg.Float("relativeHumidityPercentage")
		assert.True(ok)
		assert.InDelta(35.5, humidity, 1e-9)
	})

	t.Run("field averaged over carriers only", func(t *testing.T) {
		avg := AverageSensors([]*Report{
			sensorsWith(map[string]any{"skyMinusAmbientTemperature": -10.0}),
			sensorsWith(map[string]any{}), // reading removed by fault classification
			sensorsWith(map[string]any{"skyMinusAmbientTemperature": -20.0}),
		})

		dt, ok := avg.Float("skyMinusAmbientTemperature")
		assert.True(ok)
		assert.InDelta(-15.0, dt, 1e-9)
	})

	t.Run("field carried by no report is omitted", func(t *testing.T) {
		avg := AverageSensors([]*Report{
			sensorsWith(map[string]any{"ambientTemperature": 10.0}),
		})

		_, ok := avg.Float("skyMinusAmbientTemperature")
		assert.False(ok)
	})

	t.Run("rain flag is an OR", func(t *testing.T) {
		avg := AverageSensors([]*Report{
			sensorsWith(map[string]any{"rainSensor": false}),
			sensorsWith(map[string]any{"rainSensor": true}),
			sensorsWith(map[string]any{"rainSensor": false}),
		})
		assert.True(avg.Bool("rainSensor"))

		avg = AverageSensors([]*Report{
			sensorsWith(map[string]any{"rainSensor": false}),
		})
		assert.False(avg.Bool("rainSensor"))
	})

	t.Run("empty input", func(t *testing.T) {
		avg := AverageSensors(nil)
		assert.Equal(SensorsReport, avg.Type)
		assert.False(avg.Bool("rainSensor"))
		_, ok := avg.Float("ambientTemperature")
		assert.False(ok)
	})
}
