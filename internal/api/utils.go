package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"can-safety-gateway/internal/models"
)

const maxLimit = 10000

// parseQueryParams parses common query parameters from HTTP request
func parseQueryParams(r *http.Request) (models.QueryParams, error) {
	q := r.URL.Query()
	params := models.QueryParams{
		Limit: 100, // default limit
	}

	if s := q.Get("start_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return params, fmt.Errorf("invalid start_time format: %v", err)
		}
		params.StartTime = &t
	}

	if s := q.Get("end_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return params, fmt.Errorf("invalid end_time format: %v", err)
		}
		params.EndTime = &t
	}
	if params.StartTime != nil && params.EndTime != nil && params.EndTime.Before(*params.StartTime) {
		return params, fmt.Errorf("end_time is before start_time")
	}

	// can_id accepts decimal or 0x-prefixed hex
	if s := q.Get("can_id"); s != "" {
		id, err := parseCANID(s)
		if err != nil {
			return params, fmt.Errorf("invalid can_id format: %v", err)
		}
		params.CANID = &id
	}

	params.Interface = q.Get("interface")
	params.Kind = q.Get("kind")

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return params, fmt.Errorf("invalid limit format: %q", s)
		}
		params.Limit = min(limit, maxLimit)
	}

	if s := q.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return params, fmt.Errorf("invalid offset format: %q", s)
		}
		params.Offset = offset
	}

	return params, nil
}

func parseCANID(s string) (uint32, error) {
	var (
		id  uint64
		err error
	)
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		id, err = strconv.ParseUint(rest, 16, 32)
	} else {
		id, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, err
	}
	if id > 0x1FFFFFFF {
		return 0, fmt.Errorf("%#x exceeds 29 bits", id)
	}
	return uint32(id), nil
}

// respondWithError sends an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
