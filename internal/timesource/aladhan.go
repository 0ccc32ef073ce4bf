package timesource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"adhanbot/pkg/logx"
)

const DefaultAladhanURL = "https://api.aladhan.com/v1"

type AladhanConfig struct {
	BaseURL    string
	Country    string
	Method     int           // calculation method; 4 = Umm al-Qura
	Timeout    time.Duration // per request
	RatePerSec float64
}

// Aladhan queries the aladhan.com timingsByCity endpoint.
type Aladhan struct {
	cfg        AladhanConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        logx.Logger
}

func NewAladhan(cfg AladhanConfig, log logx.Logger) *Aladhan {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultAladhanURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Country == "" {
		cfg.Country = "Syria"
	}
	if cfg.Method <= 0 {
		cfg.Method = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aladhan{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:        log,
	}
}

type aladhanResponse struct {
	Code int `json:"code"`
	Data *struct {
		Timings map[string]string `json:"timings"`
	} `json:"data"`
}

func (a *Aladhan) Today(ctx context.Context, location string, day time.Time) (Events, error) {
	loc, ok := LookupLocation(location)
	if !ok {
		return Events{}, fmt.Errorf("%w: %q", ErrUnknownLocation, location)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return Events{}, fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("city", loc.Key)
	params.Set("country", a.cfg.Country)
	params.Set("method", strconv.Itoa(a.cfg.Method))
	u := a.cfg.BaseURL + "/timingsByCity/" + day.Format("02-01-2006") + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Events{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Events{}, fmt.Errorf("aladhan %s: %w", loc.Key, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Events{}, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Events{}, fmt.Errorf("aladhan %s returned %d: %s", loc.Key, resp.StatusCode, truncate(body, 200))
	}

	var r aladhanResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Events{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if r.Data == nil || len(r.Data.Timings) == 0 {
		return Events{}, fmt.Errorf("%w: no timings", ErrMalformed)
	}

	ev := Events{Location: loc.Key, Day: day.Format("2006-01-02"), Times: map[Event]string{}, Errors: map[Event]error{}}
	for _, e := range AllEvents {
		raw, ok := r.Data.Timings[string(e)]
		if !ok {
			ev.Errors[e] = fmt.Errorf("%w: %s missing", ErrMalformed, e)
			continue
		}
		h, m, err := ParseClock(raw)
		if err != nil {
			ev.Errors[e] = err
			continue
		}
		ev.Times[e] = fmt.Sprintf("%02d:%02d", h, m)
	}
	if len(ev.Times) == 0 {
		return Events{}, fmt.Errorf("%w: no readable timings", ErrMalformed)
	}
	a.log.Debug("timings fetched", logx.String("location", loc.Key), logx.String("day", ev.Day), logx.Int("events", len(ev.Times)))
	return ev, nil
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
