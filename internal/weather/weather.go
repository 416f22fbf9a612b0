// Package weather provides real-world weather data integration.
// Maps OpenWeatherMap conditions at each city onto route weather.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/world"
)

const owmURL = "https://api.openweathermap.org/data/2.5/weather"

// Client fetches weather data from OpenWeatherMap.
type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client

	mu          sync.Mutex
	cache       map[string]cached
	cacheTTL    time.Duration
	lastFailAt  time.Time
	failBackoff time.Duration
}

type cached struct {
	cond *Conditions
	at   time.Time
}

// NewClient creates a weather API client. Returns nil if apiKey is empty.
func NewClient(apiKey string) *Client {
	if apiKey == "" {
		return nil
	}
	return &Client{
		apiKey:   apiKey,
		endpoint: owmURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    map[string]cached{},
		cacheTTL: 10 * time.Minute,
	}
}

// Enabled returns true if the client has an API key.
func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Conditions holds parsed weather data from the API.
type Conditions struct {
	Temp        float64 `json:"temp"` // Celsius
	Description string  `json:"description"`
	WindSpeed   float64 `json:"wind_speed"` // m/s
	Visibility  int     `json:"visibility"` // metres, 0 when unreported
	IsStorm     bool    `json:"is_storm"`
	IsSnow      bool    `json:"is_snow"`
	IsRain      bool    `json:"is_rain"`
	IsFog       bool    `json:"is_fog"`
}

// Fetch retrieves current conditions at a point, using cache if fresh.
func (c *Client) Fetch(ctx context.Context, lat, lon float64) (*Conditions, error) {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)

	c.mu.Lock()
	defer c.mu.Unlock()

	hit, ok := c.cache[key]
	if ok && time.Since(hit.at) < c.cacheTTL {
		return hit.cond, nil
	}

	// Backoff on repeated failures (up to 10 minutes).
	if c.failBackoff > 0 && time.Since(c.lastFailAt) < c.failBackoff {
		if ok {
			return hit.cond, nil
		}
		return nil, fmt.Errorf("weather API backoff (%s remaining)", c.failBackoff-time.Since(c.lastFailAt))
	}

	cond, err := c.fetchFromAPI(ctx, lat, lon)
	if err != nil {
		c.lastFailAt = time.Now()
		if c.failBackoff == 0 {
			c.failBackoff = 1 * time.Minute
		} else if c.failBackoff < 10*time.Minute {
			c.failBackoff *= 2
		}
		if ok {
			return hit.cond, nil
		}
		return nil, err
	}

	c.cache[key] = cached{cond: cond, at: time.Now()}
	c.failBackoff = 0 // Reset backoff on success.
	return cond, nil
}

func (c *Client) fetchFromAPI(ctx context.Context, lat, lon float64) (*Conditions, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", lat))
	q.Set("lon", fmt.Sprintf("%.4f", lon))
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather API call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read weather response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API error %d: %s", resp.StatusCode, string(body))
	}

	cond, err := parseConditions(body)
	if err != nil {
		return nil, err
	}
	slog.Debug("weather fetched", "lat", lat, "lon", lon, "temp", cond.Temp, "desc", cond.Description)
	return cond, nil
}

func parseConditions(body []byte) (*Conditions, error) {
	var owm struct {
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Main        string `json:"main"`
			Description string `json:"description"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		Visibility int `json:"visibility"`
	}

	if err := json.Unmarshal(body, &owm); err != nil {
		return nil, fmt.Errorf("parse weather: %w", err)
	}

	cond := &Conditions{
		Temp:       owm.Main.Temp,
		WindSpeed:  owm.Wind.Speed,
		Visibility: owm.Visibility,
	}

	if len(owm.Weather) > 0 {
		cond.Description = owm.Weather[0].Description
		main := strings.ToLower(owm.Weather[0].Main)
		cond.IsRain = main == "rain" || main == "drizzle"
		cond.IsSnow = main == "snow"
		cond.IsStorm = main == "thunderstorm" || main == "tornado" || main == "squall" || cond.WindSpeed > 15
		cond.IsFog = main == "fog" || main == "mist" || main == "haze" || main == "smoke"
	}
	if cond.Visibility > 0 && cond.Visibility < 1000 {
		cond.IsFog = true
	}
	return cond, nil
}

// Status maps real conditions to route weather. Nil conditions are clear.
func Status(c *Conditions) world.WeatherStatus {
	switch {
	case c == nil:
		return world.WeatherClear
	case c.WindSpeed > 25 || (c.IsStorm && c.IsSnow):
		return world.WeatherSevere
	case c.IsStorm || c.IsSnow:
		return world.WeatherStorm
	case c.IsFog:
		return world.WeatherFog
	case c.IsRain:
		return world.WeatherRain
	default:
		return world.WeatherClear
	}
}

// worse returns the status with the larger distance penalty.
func worse(a, b world.WeatherStatus) world.WeatherStatus {
	if b.Multiplier() > a.Multiplier() {
		return b
	}
	return a
}

// Refresh fetches every city's weather and sets each route to the worse of
// its two endpoints. Cities that cannot be fetched count as clear. It
// returns a description of every route whose weather changed.
func (c *Client) Refresh(ctx context.Context, w *world.World) []string {
	if !c.Enabled() {
		return nil
	}
	byCity := map[string]world.WeatherStatus{}
	for _, city := range w.Cities() {
		cond, err := c.Fetch(ctx, city.Lat, city.Lon)
		if err != nil {
			slog.Debug("weather unavailable", "city", city.Name, "error", err)
		}
		byCity[city.Name] = Status(cond)
	}
	return Apply(w, byCity)
}

// Apply sets route weather from per-city statuses.
func Apply(w *world.World, byCity map[string]world.WeatherStatus) []string {
	var changes []string
	for _, r := range w.Routes() {
		next := worse(statusOr(byCity, r.Source), statusOr(byCity, r.Target))
		if next == r.Weather {
			continue
		}
		w.UpdateWeather(r.Source, r.Target, next)
		changes = append(changes, fmt.Sprintf("Weather on %s: %s to %s", r.Name(), r.Weather, next))
	}
	return changes
}

func statusOr(m map[string]world.WeatherStatus, city string) world.WeatherStatus {
	if s, ok := m[city]; ok {
		return s
	}
	return world.WeatherClear
}
