package aggregator

import (
	"fmt"
	"time"

	"github.com/pulseboard/data-gateway/internal/upstream"
)

// maxForecastDays caps the derived daily forecast.
const maxForecastDays = 7

// DeriveDaily buckets the 3-hourly series into local calendar days and
// reduces each day to a ForecastDay:
//   - TempMin/TempMax are the extrema across the day's samples
//   - TempDay is the sample whose local hour falls in [12,15), falling back
//     to the first sample of the day
//   - TempNight is the sample whose local hour falls in [0,3), falling back
//     to the last sample of the day
//   - Humidity is the arithmetic mean, Pop the maximum
//   - the representative condition/icon comes from the midpoint sample
//
// At most the first seven days are returned.
func DeriveDaily(series upstream.ForecastSeries) []ForecastDay {
	if len(series.Samples) == 0 {
		return nil
	}

	zone := time.FixedZone("local", series.TimezoneOffset)

	type dayBucket struct {
		date    string
		samples []upstream.ForecastSample
		hours   []int
	}

	var order []string
	buckets := make(map[string]*dayBucket)

	for _, s := range series.Samples {
		local := s.Time.In(zone)
		date := local.Format("2006-01-02")

		b, ok := buckets[date]
		if !ok {
			b = &dayBucket{date: date}
			buckets[date] = b
			order = append(order, date)
		}
		b.samples = append(b.samples, s)
		b.hours = append(b.hours, local.Hour())
	}

	if len(order) > maxForecastDays {
		order = order[:maxForecastDays]
	}

	days := make([]ForecastDay, 0, len(order))
	for _, date := range order {
		b := buckets[date]
		days = append(days, reduceDay(b.date, b.samples, b.hours))
	}
	return days
}

func reduceDay(date string, samples []upstream.ForecastSample, hours []int) ForecastDay {
	day := ForecastDay{
		Date:    date,
		TempMin: samples[0].Temp,
		TempMax: samples[0].Temp,
	}

	var humiditySum float64
	dayIdx, nightIdx := -1, -1

	for i, s := range samples {
		if s.Temp < day.TempMin {
			day.TempMin = s.Temp
		}
		if s.Temp > day.TempMax {
			day.TempMax = s.Temp
		}
		humiditySum += s.Humidity
		if s.Pop > day.Pop {
			day.Pop = s.Pop
		}

		if dayIdx < 0 && hours[i] >= 12 && hours[i] < 15 {
			dayIdx = i
		}
		if nightIdx < 0 && hours[i] >= 0 && hours[i] < 3 {
			nightIdx = i
		}
	}

	if dayIdx < 0 {
		dayIdx = 0
	}
	if nightIdx < 0 {
		nightIdx = len(samples) - 1
	}
	day.TempDay = samples[dayIdx].Temp
	day.TempNight = samples[nightIdx].Temp
	day.Humidity = humiditySum / float64(len(samples))

	mid := samples[len(samples)/2]
	day.ConditionID = mid.ConditionID
	day.Condition = mid.Condition
	day.Icon = mid.Icon

	return day
}

// DeriveHourly expands the 3-hourly series into per-hour samples, capped
// at 24 entries. Each source sample covers the three hours it opens.
func DeriveHourly(series upstream.ForecastSeries) []HourlySample {
	zone := time.FixedZone("local", series.TimezoneOffset)

	hourly := make([]HourlySample, 0, 24)
	for _, s := range series.Samples {
		local := s.Time.In(zone)
		for k := 0; k < 3 && len(hourly) < 24; k++ {
			t := local.Add(time.Duration(k) * time.Hour)
			hourly = append(hourly, HourlySample{
				Hour:        fmt.Sprintf("%02d", t.Hour()),
				Temp:        s.Temp,
				Pop:         s.Pop,
				ConditionID: s.ConditionID,
				Icon:        s.Icon,
			})
		}
		if len(hourly) >= 24 {
			break
		}
	}
	return hourly
}
