// Package audit performs the satellite existence check: for every project in
// the master dataset it obtains an NDVI change metric at the site
// coordinates and labels projects whose sites show no ground activity
// despite an active status.
package audit

import "context"

// NoData is the sentinel metric for projects where no NDVI observation could
// be made. Sentinel rows are never labeled as ghosts and are excluded from
// model training downstream.
const NoData = 999.0

// Window is the observation period. The metric is mean NDVI over the start
// year minus mean NDVI over the end year: a positive value means vegetation
// loss at the site, i.e. construction activity.
type Window struct {
	StartYear int
	EndYear   int
}

// Request identifies one project site to observe.
type Request struct {
	ProjectKey  string
	ProjectName string
	Latitude    float64
	Longitude   float64
	HasCoords   bool
	Status      string
}

// Provider produces the NDVI change metric for a project site.
type Provider interface {
	NDVIChange(ctx context.Context, req Request, w Window) (float64, error)
}
