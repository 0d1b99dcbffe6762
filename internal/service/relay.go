package service

import (
	"encoding/json"
	"io"

	"RelayPool/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// requestBodyLimit caps inbound relay request bodies at 16 MiB.
const requestBodyLimit = 16 << 20

// RelayService serves the relay endpoint that multiplexes caller traffic
// over the account pool.
type RelayService struct {
	dispatcher *biz.Dispatcher
	settings   *biz.SettingsUsecase
	logger     *log.Helper
}

// NewRelayService creates a new RelayService instance.
func NewRelayService(dispatcher *biz.Dispatcher, settings *biz.SettingsUsecase, logger log.Logger) *RelayService {
	return &RelayService{
		dispatcher: dispatcher,
		settings:   settings,
		logger:     log.NewHelper(logger),
	}
}

// RegisterRoutes attaches the relay routes to the HTTP server.
func (s *RelayService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/v1")
	r.POST("/chat/completions", s.chatCompletions)
}

func (s *RelayService) chatCompletions(ctx http.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, requestBodyLimit))
	if err != nil {
		return biz.ValidationError("failed to read request body: %v", err)
	}

	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return biz.ValidationError("request body must be JSON: %v", err)
	}
	if probe.Model == "" {
		return biz.ValidationError("model is required")
	}
	if err := s.checkImageGeneration(probe.Model); err != nil {
		return err
	}

	req := &biz.RelayRequest{
		Path:        "/v1/chat/completions",
		Body:        body,
		ContentType: ctx.Request().Header.Get("Content-Type"),
		Model:       probe.Model,
	}

	resp, err := s.dispatcher.Dispatch(ctx, req)
	if err != nil {
		s.logger.Errorw("dispatch failed", "model", probe.Model, "error", err)
		return err
	}

	w := ctx.Response()
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, err = w.Write(resp.Body)
	return err
}

// checkImageGeneration rejects requests for image-capable models while image
// generation is turned off.
func (s *RelayService) checkImageGeneration(model string) error {
	settings := s.settings.Get()
	ig := settings.ImageGeneration
	if ig == nil || ig.Enabled {
		return nil
	}
	for _, m := range ig.SupportedModels {
		if m == model {
			return biz.ValidationError("image generation is disabled for model %s", model)
		}
	}
	return nil
}
