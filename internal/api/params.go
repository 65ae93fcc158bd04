// NEMLens - Energy Market Analytics Dashboard
// Copyright 2026 NEMLens Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nemlens/nemlens

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nemlens/nemlens/internal/market"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// queryParams is the raw query string surface of GET /api/v1/query,
// validated before any parsing.
type queryParams struct {
	Category   string `validate:"required,oneof=generation price transmission rooftop"`
	Start      string `validate:"required,max=40"`
	End        string `validate:"required,max=40"`
	Region     string `validate:"omitempty,alphanum,max=16"`
	Resolution string `validate:"omitempty,oneof=auto 5min 30min daily aggregate"`
	Dimensions string `validate:"omitempty,max=4096"`
}

// parseQueryRequest extracts and validates a market query from the request's
// query string. Timestamps accept RFC 3339 or a plain date, interpreted as
// midnight UTC.
func parseQueryRequest(r *http.Request) (market.QueryRequest, error) {
	q := r.URL.Query()
	params := queryParams{
		Category:   q.Get("category"),
		Start:      q.Get("start"),
		End:        q.Get("end"),
		Region:     q.Get("region"),
		Resolution: q.Get("resolution"),
		Dimensions: q.Get("dimensions"),
	}

	if err := validate.Struct(params); err != nil {
		return market.QueryRequest{}, errors.New(summarizeValidation(err))
	}

	category, err := market.ParseCategory(params.Category)
	if err != nil {
		return market.QueryRequest{}, err
	}

	start, err := parseTimestamp(params.Start)
	if err != nil {
		return market.QueryRequest{}, fmt.Errorf("start must be RFC 3339 or YYYY-MM-DD: %q", params.Start)
	}
	end, err := parseTimestamp(params.End)
	if err != nil {
		return market.QueryRequest{}, fmt.Errorf("end must be RFC 3339 or YYYY-MM-DD: %q", params.End)
	}

	resolution := market.ResolutionAuto
	if params.Resolution != "" {
		resolution, err = market.ParseResolution(params.Resolution)
		if err != nil {
			return market.QueryRequest{}, err
		}
	}

	var dimensions []string
	if params.Dimensions != "" {
		for _, d := range strings.Split(params.Dimensions, ",") {
			if d = strings.TrimSpace(d); d != "" {
				dimensions = append(dimensions, d)
			}
		}
	}

	return market.QueryRequest{
		Category:        category,
		Start:           start,
		End:             end,
		Region:          params.Region,
		DimensionFilter: dimensions,
		Resolution:      resolution,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// summarizeValidation flattens validator errors into one line naming the
// offending parameters, without leaking struct internals.
func summarizeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	return "invalid parameters: " + strings.Join(fields, ", ")
}
