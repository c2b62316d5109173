package handlers

import (
	"context"
	"errors"
	"net/http"

	"thermocycler/internal/device"
	"thermocycler/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errSetOutput   = "failed to switch board output"
	errHeaterFrame = "failed to send heater program"
)

// SwitchRequest turns a board output on or off.
type SwitchRequest struct {
	On *bool `json:"on" binding:"required" example:"true"`
}

// HeaterStopRequest names the heater whose on-device program should stop.
type HeaterStopRequest struct {
	Heater int `json:"heater" binding:"required,oneof=1 2" example:"1"`
}

// @Summary      Board outputs
// @Tags         board
// @Produce      json
// @Success      200  {object}  service.BoardState
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/board [get]
// @Security     BearerAuth
func (h *Handler) boardState(c *gin.Context) {
	c.JSON(http.StatusOK, h.services.Board.State())
}

// @Summary      Switch backlight
// @Tags         board
// @Accept       json
// @Produce      json
// @Param        body  body      SwitchRequest  true  "Switch payload"
// @Success      200   {object}  service.BoardState
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/board/backlight [post]
// @Security     BearerAuth
func (h *Handler) setBacklight(c *gin.Context) {
	h.switchOutput(c, "backlight", h.services.Board.SetBacklight)
}

// @Summary      Switch magnet
// @Tags         board
// @Accept       json
// @Produce      json
// @Param        body  body      SwitchRequest  true  "Switch payload"
// @Success      200   {object}  service.BoardState
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/board/magnet [post]
// @Security     BearerAuth
func (h *Handler) setMagnet(c *gin.Context) {
	h.switchOutput(c, "magnet", h.services.Board.SetMagnet)
}

func (h *Handler) switchOutput(c *gin.Context, name string, set func(ctx context.Context, on bool) error) {
	var req SwitchRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := set(c.Request.Context(), *req.On); err != nil {
		h.logAndJSONError(c, http.StatusBadGateway, errSetOutput, "board_switch_failed", err, "output", name, "on", *req.On)
		return
	}
	c.JSON(http.StatusOK, h.services.Board.State())
}

// @Summary      Run on-device PCR program
// @Description  Sends a heater frame; the board runs the cycles itself.
// @Tags         board
// @Accept       json
// @Produce      json
// @Param        body  body      device.HeaterFrame  true  "Heater program"
// @Success      200   {object}  map[string]interface{}  "status, total_seconds"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/board/pcr [post]
// @Security     BearerAuth
func (h *Handler) runHeaterProgram(c *gin.Context) {
	var f device.HeaterFrame
	if ok := h.bindJSONOrBadRequest(c, &f); !ok {
		return
	}
	if err := h.services.Board.RunHeaterProgram(c.Request.Context(), f); err != nil {
		h.heaterError(c, err, f.Heater)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStarted, "total_seconds": f.TotalSeconds()})
}

// @Summary      Stop on-device PCR program
// @Tags         board
// @Accept       json
// @Produce      json
// @Param        body  body      HeaterStopRequest  true  "Heater"
// @Success      200   {object}  map[string]string
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      502   {object}  map[string]string
// @Router       /api/v1/board/pcr/stop [post]
// @Security     BearerAuth
func (h *Handler) stopHeaterProgram(c *gin.Context) {
	var req HeaterStopRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.services.Board.StopHeaterProgram(c.Request.Context(), req.Heater); err != nil {
		h.heaterError(c, err, req.Heater)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusStopped})
}

func (h *Handler) heaterError(c *gin.Context, err error, heater int) {
	if errors.Is(err, service.ErrInvalidHeater) || errors.Is(err, service.ErrInvalidFrame) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logAndJSONError(c, http.StatusBadGateway, errHeaterFrame, "board_heater_failed", err, "heater", heater)
}
