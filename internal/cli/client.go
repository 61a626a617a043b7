package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// HealthReport — сводное состояние из /health.
type HealthReport struct {
	Status          string                   `json:"status"`
	CircuitBreaker  BreakerStatus            `json:"circuitBreaker"`
	CircuitBreakers map[string]BreakerStatus `json:"circuitBreakers,omitempty"`
	Saga            *struct {
		ExecutionCount int            `json:"executionCount"`
		ByStatus       map[string]int `json:"byStatus,omitempty"`
	} `json:"saga,omitempty"`
	DLQ *struct {
		IsHealthy    bool `json:"isHealthy"`
		DeadLettered int  `json:"deadLettered"`
	} `json:"dlq,omitempty"`
	Outbox *OutboxStats      `json:"outbox,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// BreakerStatus — состояние breaker'а.
type BreakerStatus struct {
	Name            string  `json:"name,omitempty"`
	IsHealthy       bool    `json:"isHealthy"`
	State           string  `json:"state"`
	FailureRate     float64 `json:"failureRate"`
	NextAttemptTime string  `json:"nextAttemptTime,omitempty"`
}

// SagaResponse — выполнение saga из API.
type SagaResponse struct {
	SagaID         string   `json:"saga_id"`
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	CurrentStep    string   `json:"current_step,omitempty"`
	CompletedSteps []string `json:"completed_steps"`
	RetryCount     int      `json:"retry_count"`
	Steps          []struct {
		StepID   string `json:"step_id"`
		Status   string `json:"status"`
		Attempts int    `json:"attempts"`
		Error    string `json:"error,omitempty"`
	} `json:"steps,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// DeadLetterResponse — сообщение из DLQ.
type DeadLetterResponse struct {
	ID                  string          `json:"id"`
	MessageID           string          `json:"message_id,omitempty"`
	OriginalMessage     json.RawMessage `json:"original_message,omitempty"`
	OriginalMessageText string          `json:"original_message_text,omitempty"`
	FailureReason       string          `json:"failure_reason"`
	AttemptCount        int             `json:"attempt_count"`
	FirstFailedAt       string          `json:"first_failed_at"`
	LastFailedAt        string          `json:"last_failed_at"`
	OriginalQueueName   string          `json:"original_queue_name"`
}

// RedriveResult — результат повторной обработки DLQ.
type RedriveResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// OutboxStats — backlog outbox по статусам.
type OutboxStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
}

// OutboxEventResponse — событие outbox.
type OutboxEventResponse struct {
	ID          string `json:"id"`
	AggregateID string `json:"aggregate_id"`
	EventType   string `json:"event_type"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
	MaxRetries  int    `json:"max_retries"`
	Version     int    `json:"version"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// --- Request types ---

// BookingRequest — запрос на запись.
type BookingRequest struct {
	AppointmentID  string `json:"appointment_id,omitempty"`
	PatientID      string `json:"patient_id,omitempty"`
	PatientName    string `json:"patient_name,omitempty"`
	PatientEmail   string `json:"patient_email,omitempty"`
	PatientPhone   string `json:"patient_phone,omitempty"`
	PsychologistID string `json:"psychologist_id"`
	ScheduledAt    string `json:"scheduled_at"`
	DurationMin    int    `json:"duration_min,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// ListOpts — параметры фильтрации списков.
type ListOpts struct {
	Status string
	Limit  int
}

func (o ListOpts) values() url.Values {
	params := url.Values{}
	if o.Status != "" {
		params.Set("status", o.Status)
	}
	if o.Limit > 0 {
		params.Set("limit", strconv.Itoa(o.Limit))
	}
	return params
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для административного API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Health ---

// Health возвращает сводное состояние.
// 503 от /health не ошибка: отчёт деградировавшей системы тоже возвращается.
func (c *Client) Health() (*HealthReport, error) {
	resp, err := c.do(http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, c.checkError(resp)
	}

	var rep HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if rep.Status == "" {
		return nil, fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}
	return &rep, nil
}

// --- Bookings ---

// Book ставит запись в очередь и возвращает ID сообщения.
func (c *Client) Book(req BookingRequest) (string, error) {
	var out struct {
		MessageID string `json:"message_id"`
	}
	err := c.post("/api/v1/bookings", req, &out)
	return out.MessageID, err
}

// --- Sagas ---

// ListSagas возвращает выполнения saga и общее число.
func (c *Client) ListSagas(opts ListOpts) ([]SagaResponse, int, error) {
	var sagas []SagaResponse
	total, err := c.list("/api/v1/sagas", opts.values(), &sagas)
	return sagas, total, err
}

// GetSaga возвращает выполнение saga по ID.
func (c *Client) GetSaga(id string) (*SagaResponse, error) {
	var s SagaResponse
	err := c.get("/api/v1/sagas/"+url.PathEscape(id), &s)
	return &s, err
}

// --- DLQ ---

// ListDeadLetters возвращает сообщения из DLQ.
func (c *Client) ListDeadLetters(limit int) ([]DeadLetterResponse, error) {
	var msgs []DeadLetterResponse
	_, err := c.list("/api/v1/dlq", ListOpts{Limit: limit}.values(), &msgs)
	return msgs, err
}

// RedriveDeadLetters повторно обрабатывает сообщения DLQ.
func (c *Client) RedriveDeadLetters() (*RedriveResult, error) {
	var res RedriveResult
	err := c.post("/api/v1/dlq/redrive", nil, &res)
	return &res, err
}

// --- Outbox ---

// OutboxStats возвращает backlog outbox.
func (c *Client) OutboxStats() (*OutboxStats, error) {
	var stats OutboxStats
	err := c.get("/api/v1/outbox/stats", &stats)
	return &stats, err
}

// ListOutboxEvents возвращает события outbox.
func (c *Client) ListOutboxEvents(opts ListOpts) ([]OutboxEventResponse, error) {
	var events []OutboxEventResponse
	_, err := c.list("/api/v1/outbox/events", opts.values(), &events)
	return events, err
}

// RedriveOutbox возвращает FAILED-события в PENDING.
func (c *Client) RedriveOutbox(limit int) (int64, error) {
	path := "/api/v1/outbox/redrive"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Requeued int64 `json:"requeued"`
	}
	err := c.post(path, nil, &out)
	return out.Requeued, err
}

// --- Breakers ---

// ListBreakers возвращает состояние breaker'ов.
func (c *Client) ListBreakers() ([]BreakerStatus, error) {
	var list []BreakerStatus
	_, err := c.list("/api/v1/breakers", nil, &list)
	return list, err
}

// ForceBreaker принудительно открывает (open=true) или закрывает breaker.
func (c *Client) ForceBreaker(name string, open bool) (*BreakerStatus, error) {
	action := "close"
	if open {
		action = "open"
	}
	var status BreakerStatus
	err := c.post("/api/v1/breakers/"+url.PathEscape(name)+"/"+action, nil, &status)
	return &status, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) (int, error) {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return 0, err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	return lr.Total, json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
