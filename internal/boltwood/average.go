package boltwood

// Numeric columns carried by an averaged sensors report.
var averageMeanColumns = []string{
	"skyMinusAmbientTemperature",
	"ambientTemperature",
	"windSpeed",
	"relativeHumidityPercentage",
}

// AverageSensors combines a batch of sensors reports into one report whose
// numeric fields are arithmetic means and whose rain flag is the logical OR
// of the inputs. A field is averaged over the subset of reports that carry
// it; if no report carries it, the field is omitted from the result rather
// than set to NaN. Inputs are not modified.
func AverageSensors(reports []*Report) *Report {
	avg := newReport(SensorsReport)

	for _, name := range averageMeanColumns {
		sum := 0.0
		n := 0
		for _, rep := range reports {
			if v, ok := rep.Float(name); ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			avg.Data[name] = sum / float64(n)
		}
	}

	rain := false
	for _, rep := range reports {
		if rep.Bool("rainSensor") {
			rain = true
			break
		}
	}
	avg.Data["rainSensor"] = rain

	return avg
}
