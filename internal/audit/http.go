package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// maxCloudCover is the cloudy-pixel percentage cap sent to the statistics
// endpoint when selecting Sentinel-2 scenes.
const maxCloudCover = 10

// HTTPProvider queries a scene statistics endpoint for mean NDVI per window.
// The endpoint contract: GET {base}/statistics?lat=..&lon=..&start=..&end=..
// &cloud_cover_lt=10 returning {"mean_ndvi": <float>}.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given base URL.
func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type statsResponse struct {
	MeanNDVI *float64 `json:"mean_ndvi"`
}

// NDVIChange fetches mean NDVI for both windows and returns their difference.
func (p *HTTPProvider) NDVIChange(ctx context.Context, req Request, w Window) (float64, error) {
	if !req.HasCoords {
		return 0, fmt.Errorf("project %s has no coordinates", req.ProjectName)
	}

	start, err := p.meanNDVI(ctx, req, fmt.Sprintf("%d-01-01", w.StartYear), fmt.Sprintf("%d-12-31", w.StartYear))
	if err != nil {
		return 0, fmt.Errorf("start window: %w", err)
	}
	end, err := p.meanNDVI(ctx, req, fmt.Sprintf("%d-01-01", w.EndYear), fmt.Sprintf("%d-12-31", w.EndYear))
	if err != nil {
		return 0, fmt.Errorf("end window: %w", err)
	}

	return start - end, nil
}

func (p *HTTPProvider) meanNDVI(ctx context.Context, req Request, start, end string) (float64, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", req.Latitude))
	q.Set("lon", fmt.Sprintf("%f", req.Longitude))
	q.Set("start", start)
	q.Set("end", end)
	q.Set("cloud_cover_lt", fmt.Sprintf("%d", maxCloudCover))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/statistics?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("statistics request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("statistics endpoint returned %d", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("failed to decode statistics response: %w", err)
	}
	if stats.MeanNDVI == nil {
		return 0, fmt.Errorf("no NDVI data for site")
	}

	return *stats.MeanNDVI, nil
}

var _ Provider = (*HTTPProvider)(nil)
