// Package sensors reads the CPU temperature shown next to the fan status.
package sensors

import (
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/host"
)

// Sensor key prefixes in order of preference.
var cpuSensors = []string{
	"coretemp_package_id_0",
	"k10temp_tctl",
	"thinkpad_cpu",
	"coretemp",
	"k10temp",
	"acpitz",
}

// CPUTemperature returns the CPU temperature in degrees Celsius.
func CPUTemperature() (float64, bool) {
	temps, err := host.SensorsTemperatures()
	if err != nil && len(temps) == 0 {
		log.Debug().Err(err).Msg("Temperature sensors unavailable")
		return 0, false
	}
	return pick(temps)
}

func pick(temps []host.TemperatureStat) (float64, bool) {
	for _, prefix := range cpuSensors {
		for _, t := range temps {
			if strings.HasPrefix(strings.ToLower(t.SensorKey), prefix) && t.Temperature > 0 {
				return t.Temperature, true
			}
		}
	}
	return 0, false
}
