// Package practice reads the appointment book from the practice management
// REST API.
package practice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appLog "apptgrid/internal/log"
	"apptgrid/internal/model"
)

// ErrRejected is returned when the API answers 2xx with success=false.
var ErrRejected = errors.New("practice: request rejected")

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("practice: unexpected status %d: %s", e.Code, e.Body)
}

// Envelope is the API's response wrapper.
type Envelope[T any] struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      T      `json:"data"`
	Timestamp string `json:"timestamp"`
}

// Record is an appointment as the API serializes it.
type Record struct {
	ID        string  `json:"id"`
	PatientID string  `json:"patientId"`
	DoctorID  string  `json:"doctorId"`
	StartTime string  `json:"startTime"`
	EndTime   string  `json:"endTime"`
	Status    string  `json:"status"`
	Reason    string  `json:"reason"`
	Notes     *string `json:"notes"`
	Patient   *struct {
		FirstNames string `json:"nombres"`
		LastNames  string `json:"apellidos"`
	} `json:"patient,omitempty"`
}

// Appointment converts a record into the shared model. Start and End are
// moved into loc.
func (r Record) Appointment(loc *time.Location) (model.Appointment, error) {
	start, err := time.Parse(time.RFC3339, r.StartTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("practice: appointment %s: startTime: %w", r.ID, err)
	}
	end, err := time.Parse(time.RFC3339, r.EndTime)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("practice: appointment %s: endTime: %w", r.ID, err)
	}
	status, err := model.ParseStatus(r.Status)
	if err != nil {
		return model.Appointment{}, err
	}
	if loc == nil {
		loc = time.Local
	}

	a := model.Appointment{
		ID:        r.ID,
		SourceID:  "practice",
		PatientID: r.PatientID,
		DoctorID:  r.DoctorID,
		Reason:    r.Reason,
		Status:    status,
		Start:     start.In(loc),
		End:       end.In(loc),
	}
	if r.Notes != nil {
		a.Notes = *r.Notes
	}
	if r.Patient != nil {
		a.Summary = strings.TrimSpace(r.Patient.FirstNames + " " + r.Patient.LastNames)
	}
	return a, nil
}

// Client talks to {BaseURL}/appointments.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	location *time.Location
}

// Option customizes a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLocation sets the zone returned appointments are converted to.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.location = loc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		location: time.Local,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name identifies the client as an agenda source.
func (c *Client) Name() string { return "practice" }

// Appointments lists appointments starting in [start, end]. Records that
// cannot be converted are logged and skipped.
func (c *Client) Appointments(ctx context.Context, start, end time.Time) ([]model.Appointment, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	var env Envelope[[]Record]
	if err := c.get(ctx, "/appointments?"+q.Encode(), &env); err != nil {
		return nil, err
	}

	out := make([]model.Appointment, 0, len(env.Data))
	for _, r := range env.Data {
		a, err := r.Appointment(c.location)
		if err != nil {
			appLog.Warn("skipping malformed appointment", "id", r.ID, "reason", err.Error())
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, env interface{ ok() (bool, string) }) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("practice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return fmt.Errorf("practice: decode response: %w", err)
	}
	if ok, msg := env.ok(); !ok {
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	return nil
}

func (e *Envelope[T]) ok() (bool, string) {
	return e.Success, e.Message
}
