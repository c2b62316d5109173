package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"thermocycler/internal/control"
	"thermocycler/internal/protocol"
	"thermocycler/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK      = "ok"
	statusStarted = "started"
	statusStopped = "stopped"

	errStartRun   = "failed to start run"
	errStopRun    = "failed to stop run"
	errLoadRuns   = "failed to load run history"
	errLoadSample = "failed to load run samples"
	errBadLimit   = "invalid 'limit'; use a positive integer"
	defaultTarget = "both"
	maxHistory    = 500
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// protocolError answers a rejected protocol with the offending line.
func (h *Handler) protocolError(c *gin.Context, err error) {
	resp := gin.H{"error": err.Error()}
	if line, ok := protocol.LineOf(err); ok {
		resp["line"] = line
	}
	c.JSON(http.StatusBadRequest, resp)
}

// CompileRequest carries protocol text to validate or run.
type CompileRequest struct {
	// Protocol text: "<temp>,<seconds>" lines and --CYCLE,<n>,loops / --ENDCYCLE blocks
	Protocol string `json:"protocol" binding:"required" example:"95,30\n--CYCLE,2,loops\n95,10\n55,20\n--ENDCYCLE"`
}

// StartRequest is the payload of POST /runs/start.
type StartRequest struct {
	// Which peltier(s) to drive. Allowed: front, back, both (default both)
	Target   string `json:"target,omitempty" example:"both"`
	Protocol string `json:"protocol" binding:"required" example:"95,30\n--CYCLE,2,loops\n95,10\n55,20\n--ENDCYCLE"`
}

// StopRequest is the payload of POST /runs/stop.
type StopRequest struct {
	Target string `json:"target,omitempty" example:"front"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Compile protocol
// @Description  Parses and expands a protocol without starting it. Parse errors carry the offending line.
// @Tags         protocols
// @Accept       json
// @Produce      json
// @Param        body  body      CompileRequest  true  "Protocol payload"
// @Success      200   {object}  service.CompileResult
// @Failure      400   {object}  map[string]interface{}  "error, line"
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/protocols/compile [post]
// @Security     BearerAuth
func (h *Handler) compileProtocol(c *gin.Context) {
	var req CompileRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	res, err := h.services.Runs.Compile(req.Protocol)
	if err != nil {
		h.protocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// @Summary      Start run
// @Description  Compiles the protocol and starts it on the target peltier(s). Refused while any target channel is running.
// @Tags         runs
// @Accept       json
// @Produce      json
// @Param        body  body      StartRequest  true  "Run payload"
// @Success      200   {object}  map[string]interface{}  "status, run"
// @Failure      400   {object}  map[string]interface{}  "error, line"
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/runs/start [post]
// @Security     BearerAuth
func (h *Handler) startRun(c *gin.Context) {
	var req StartRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if req.Target == "" {
		req.Target = defaultTarget
	}
	res, err := h.services.Runs.Start(c.Request.Context(), service.StartParams{
		Target:   req.Target,
		Protocol: req.Protocol,
		UserID:   c.GetInt(userCtx),
	})
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrParse):
		h.protocolError(c, err)
		return
	case errors.Is(err, service.ErrInvalidTarget), errors.Is(err, control.ErrEmptyProgram):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, control.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	default:
		h.logAndJSONError(c, http.StatusInternalServerError, errStartRun, "run_start_failed", err, "target", req.Target)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStarted, "run": res})
}

// @Summary      Stop run
// @Description  Stops the target peltier(s). Stopping an idle channel is not an error.
// @Tags         runs
// @Accept       json
// @Produce      json
// @Param        body  body      StopRequest  false  "Stop payload"
// @Success      200   {object}  map[string]interface{}  "status, runs"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/runs/stop [post]
// @Security     BearerAuth
func (h *Handler) stopRun(c *gin.Context) {
	var req StopRequest
	if c.Request.ContentLength != 0 {
		if ok := h.bindJSONOrBadRequest(c, &req); !ok {
			return
		}
	}
	if req.Target == "" {
		req.Target = defaultTarget
	}
	ctx := c.Request.Context()
	if err := h.services.Runs.Stop(ctx, req.Target); err != nil {
		if errors.Is(err, service.ErrInvalidTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errStopRun, "run_stop_failed", err, "target", req.Target)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStopped, "runs": h.services.Runs.Status(ctx)})
}

// @Summary      Run status
// @Tags         runs
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "runs"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/runs/status [get]
// @Security     BearerAuth
func (h *Handler) runStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"runs": h.services.Runs.Status(c.Request.Context())})
}

// @Summary      Run history
// @Description  Newest runs first.
// @Tags         runs
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of runs (default 50, max 500)"
// @Success      200    {object}  map[string]interface{}  "count, runs"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/runs/history [get]
// @Security     BearerAuth
func (h *Handler) runHistory(c *gin.Context) {
	limit := 0
	if qs := c.Query("limit"); qs != "" {
		n, err := strconv.Atoi(qs)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": errBadLimit})
			return
		}
		limit = min(n, maxHistory)
	}
	runs, err := h.services.Runs.History(c.Request.Context(), limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadRuns, "run_history_failed", err, "limit", limit)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(runs),
		"runs":  runs,
	})
}

// @Summary      Run samples
// @Description  Per-tick control log of one run: setpoint, measured value, relay state and every channel reading.
// @Tags         runs
// @Produce      json
// @Param        id   path      string  true  "Run id"
// @Success      200  {object}  map[string]interface{}  "count, samples"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/{id}/samples [get]
// @Security     BearerAuth
func (h *Handler) runSamples(c *gin.Context) {
	id := c.Param("id")
	samples, err := h.services.Runs.Samples(c.Request.Context(), id)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errLoadSample, "run_samples_failed", err, "run_id", id)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(samples),
		"samples": samples,
	})
}
