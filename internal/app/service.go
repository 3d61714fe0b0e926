package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/activity"
	"github.com/shrimpsizemoose/examportal/internal/event"
	"github.com/shrimpsizemoose/examportal/internal/llm"
	"github.com/shrimpsizemoose/examportal/internal/registration"
	"github.com/shrimpsizemoose/examportal/internal/registry"
	"github.com/shrimpsizemoose/examportal/internal/scoring"
	"github.com/shrimpsizemoose/examportal/internal/session"
	"github.com/shrimpsizemoose/examportal/internal/store"
)

// Service is the process-scoped container. It is built once at start and
// handed to every surface; Close tears it down in reverse order.
type Service struct {
	Config       *Config
	Clock        clockwork.Clock
	Registry     *registry.Registry
	Recorder     *activity.Recorder
	Registration *registration.Service
	Sessions     *session.Manager
	Grader       *scoring.Grader

	publisher *event.Publisher
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	backend, err := NewStore(ctx, config.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	return Assemble(ctx, config, backend, clockwork.NewRealClock())
}

// Assemble wires the components on top of an opened backend.
func Assemble(ctx context.Context, config *Config, backend store.CollectionStore, clk clockwork.Clock) (*Service, error) {
	reg, err := registry.Open(ctx, backend, clk)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	s := &Service{Config: config, Clock: clk, Registry: reg}

	var publisher activity.Publisher
	if config.Events.AMQPURL != "" {
		p, err := event.NewPublisher(config.Events.AMQPURL, config.Events.Exchange)
		if err != nil {
			logger.Error.Printf("Activity fan-out disabled: %v", err)
		} else {
			s.publisher = p
			publisher = p
		}
	}

	s.Recorder = activity.NewRecorder(reg, clk, publisher)
	s.Registration = registration.NewService(reg, s.Recorder, clk, config.Portal.InstitutionalDomain)
	s.Sessions = session.NewManager(reg, s.Recorder, clk, config.TickPeriod())

	var evaluator scoring.Evaluator
	if config.AI.BaseURL != "" {
		evaluator = llm.NewClient(llm.Config{
			BaseURL: config.AI.BaseURL,
			APIKey:  config.AI.APIKey,
			Model:   config.AI.Model,
			Timeout: config.AITimeout(),
		})
	} else {
		logger.Info.Println("No AI endpoint configured, short answers will get the fallback grade")
	}
	s.Grader = scoring.NewGrader(reg, evaluator, s.Recorder, config.AITimeout())

	return s, nil
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

func (s *Service) Close() error {
	var errs []error

	s.Sessions.Close()
	if s.publisher != nil {
		s.publisher.Close()
	}
	if err := s.Registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
