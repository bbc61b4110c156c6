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

// --- Response types (дублируются из api/dto.go, клиент не импортирует internal/api) ---

// TaskDefResponse — определение задачи pipeline.
type TaskDefResponse struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Command     string   `json:"command,omitempty"`
	Environment string   `json:"environment,omitempty"`
	TimeoutSec  int      `json:"timeout_sec,omitempty"`
}

// PipelineResponse — версия pipeline из API.
type PipelineResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Version     int               `json:"version"`
	Description string            `json:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	Tasks       []TaskDefResponse `json:"tasks"`
	Tiers       [][]string        `json:"tiers,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID              string            `json:"id"`
	Pipeline        string            `json:"pipeline"`
	Version         int               `json:"version"`
	Status          string            `json:"status"`
	Params          map[string]string `json:"params,omitempty"`
	Reason          string            `json:"failure_reason,omitempty"`
	FailedTask      string            `json:"failed_task,omitempty"`
	Error           string            `json:"error,omitempty"`
	CancelRequested bool              `json:"cancel_requested,omitempty"`
	Trigger         string            `json:"trigger,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
	StartedAt       string            `json:"started_at,omitempty"`
	FinishedAt      string            `json:"finished_at,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

// TaskResponse — состояние задачи из API.
type TaskResponse struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	SkippedBy  string `json:"skipped_by,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// GateResponse — approval gate из API.
type GateResponse struct {
	RunID     string `json:"run_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Live      bool   `json:"live"`
	Deadline  string `json:"deadline"`
	DecidedAt string `json:"decided_at,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string            `json:"id"`
	Pipeline    string            `json:"pipeline"`
	Name        string            `json:"name"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone"`
	Enabled     bool              `json:"enabled"`
	NextDueAt   string            `json:"next_due_at,omitempty"`
	LastRunAt   string            `json:"last_run_at,omitempty"`
	LastRunID   string            `json:"last_run_id,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// --- Request types ---

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Params         map[string]string `json:"params,omitempty"`
	Version        *int              `json:"version,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// DecideGateRequest — решение по gate.
type DecideGateRequest struct {
	Decision string `json:"decision"`
	Actor    string `json:"actor,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string            `json:"name"`
	CronExpr    string            `json:"cron_expr,omitempty"`
	IntervalSec int               `json:"interval_sec,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Enabled     bool              `json:"enabled"`
	Params      map[string]string `json:"params,omitempty"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string            `json:"name,omitempty"`
	CronExpr    *string            `json:"cron_expr,omitempty"`
	IntervalSec *int               `json:"interval_sec,omitempty"`
	Timezone    *string            `json:"timezone,omitempty"`
	Params      *map[string]string `json:"params,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	Pipeline string
	Status   string
	Limit    int
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

// Client — HTTP-клиент для Conveyor API.
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

// --- Pipelines ---

// ListPipelines возвращает последние версии всех pipelines.
func (c *Client) ListPipelines() ([]PipelineResponse, error) {
	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", nil, &pipelines)
	return pipelines, err
}

// RegisterPipeline отправляет манифест (YAML или JSON) и возвращает новую версию.
func (c *Client) RegisterPipeline(manifest []byte) (*PipelineResponse, error) {
	resp, err := c.doRaw(http.MethodPost, "/api/v1/pipelines", "application/yaml", bytes.NewReader(manifest))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var p PipelineResponse
	if err := c.decodeData(resp, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPipeline возвращает последнюю версию pipeline.
func (c *Client) GetPipeline(name string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+url.PathEscape(name), &p)
	return &p, err
}

// GetPipelineVersion возвращает конкретную версию pipeline.
func (c *Client) GetPipelineVersion(name string, version int) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+url.PathEscape(name)+"/versions/"+strconv.Itoa(version), &p)
	return &p, err
}

// ListVersions возвращает версии pipeline.
func (c *Client) ListVersions(name string) ([]PipelineResponse, error) {
	var versions []PipelineResponse
	err := c.list("/api/v1/pipelines/"+url.PathEscape(name)+"/versions", nil, &versions)
	return versions, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(name string) error {
	return c.delete("/api/v1/pipelines/" + url.PathEscape(name))
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.Pipeline != "" {
		params.Set("pipeline", opts.Pipeline)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun создаёт run pipeline.
func (c *Client) CreateRun(pipeline string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(pipeline)+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// CancelRun запрашивает отмену run.
func (c *Client) CancelRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &run)
	return &run, err
}

// ListTasks возвращает состояния задач run.
func (c *Client) ListTasks(runID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/runs/"+runID+"/tasks", nil, &tasks)
	return tasks, err
}

// TaskLog возвращает вывод задачи.
func (c *Client) TaskLog(runID, task string) ([]byte, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/runs/"+runID+"/tasks/"+url.PathEscape(task)+"/log", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// --- Gates ---

// ListGates возвращает gates run.
func (c *Client) ListGates(runID string) ([]GateResponse, error) {
	var gates []GateResponse
	err := c.list("/api/v1/runs/"+runID+"/gates", nil, &gates)
	return gates, err
}

// GetGate возвращает gate.
func (c *Client) GetGate(runID, name string) (*GateResponse, error) {
	var g GateResponse
	err := c.get("/api/v1/runs/"+runID+"/gates/"+url.PathEscape(name), &g)
	return &g, err
}

// DecideGate записывает решение по gate.
func (c *Client) DecideGate(runID, name string, req DecideGateRequest) (*GateResponse, error) {
	var g GateResponse
	err := c.post("/api/v1/runs/"+runID+"/gates/"+url.PathEscape(name)+"/decision", req, &g)
	return &g, err
}

// --- Schedules ---

// ListSchedules возвращает schedules. Если pipeline не пустой — фильтрует.
func (c *Client) ListSchedules(pipeline string) ([]ScheduleResponse, error) {
	params := url.Values{}
	if pipeline != "" {
		params.Set("pipeline", pipeline)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для pipeline.
func (c *Client) CreateSchedule(pipeline string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/pipelines/"+url.PathEscape(pipeline)+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	body := map[string]bool{"enabled": enabled}
	err := c.put("/api/v1/schedules/"+id+"/enabled", body, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decodeData(resp, result)
}

func (c *Client) decodeData(resp *http.Response, result any) error {
	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
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
	if body == nil {
		return c.doRaw(method, path, "", nil)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.doRaw(method, path, "application/json", bytes.NewReader(data))
}

func (c *Client) doRaw(method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
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
