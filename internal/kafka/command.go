package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/footballistika/predictor/internal/domain"
	"github.com/footballistika/predictor/internal/metrics"
)

// CommandType names the operation a command message asks for
type CommandType string

const (
	CommandCreateMatch CommandType = "create_match"
	CommandPrediction  CommandType = "prediction"
	CommandResult      CommandType = "result"
)

// Command is the message format on the commands topic
type Command struct {
	ID          string      `json:"id"`
	Type        CommandType `json:"type"`
	MatchID     int64       `json:"match_id,omitempty"`
	UserID      int64       `json:"user_id,omitempty"`
	Username    string      `json:"username,omitempty"`
	Team1       string      `json:"team1,omitempty"`
	Team2       string      `json:"team2,omitempty"`
	Score1      *int        `json:"score1,omitempty"`
	Score2      *int        `json:"score2,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at"`
}

// NewCreateMatch builds a create_match command
func NewCreateMatch(team1, team2 string) Command {
	return Command{
		ID:          uuid.NewString(),
		Type:        CommandCreateMatch,
		Team1:       team1,
		Team2:       team2,
		SubmittedAt: time.Now().UTC(),
	}
}

// NewPrediction builds a prediction command
func NewPrediction(matchID, userID int64, username string, score1, score2 int) Command {
	return Command{
		ID:          uuid.NewString(),
		Type:        CommandPrediction,
		MatchID:     matchID,
		UserID:      userID,
		Username:    username,
		Score1:      domain.IntPtr(score1),
		Score2:      domain.IntPtr(score2),
		SubmittedAt: time.Now().UTC(),
	}
}

// NewResult builds a result command
func NewResult(matchID int64, score1, score2 int) Command {
	return Command{
		ID:          uuid.NewString(),
		Type:        CommandResult,
		MatchID:     matchID,
		Score1:      domain.IntPtr(score1),
		Score2:      domain.IntPtr(score2),
		SubmittedAt: time.Now().UTC(),
	}
}

// Validate checks the fields each command type needs
func (c Command) Validate() error {
	switch c.Type {
	case CommandCreateMatch:
		if c.Team1 == "" || c.Team2 == "" {
			return domain.ErrInvalidTeams
		}
	case CommandPrediction:
		if c.MatchID == 0 || c.UserID == 0 || c.Score1 == nil || c.Score2 == nil {
			return fmt.Errorf("%w: prediction needs match_id, user_id and scores", domain.ErrInvalidRequest)
		}
	case CommandResult:
		if c.MatchID == 0 || c.Score1 == nil || c.Score2 == nil {
			return fmt.Errorf("%w: result needs match_id and scores", domain.ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown command type %q", domain.ErrInvalidRequest, c.Type)
	}
	return nil
}

// CommandHandler applies commands to the game engine
type CommandHandler interface {
	CreateMatch(ctx context.Context, team1, team2 string) (domain.Match, error)
	SubmitPredictionAt(ctx context.Context, submission domain.PredictionSubmission, submittedAt time.Time) (domain.Prediction, error)
	MarkFinished(ctx context.Context, matchID int64, score1, score2 int) (domain.Match, []domain.Award, error)
}

// Processor decodes and applies single command messages
type Processor struct {
	handler    CommandHandler
	metrics    *metrics.Metrics
	logger     *slog.Logger
	retries    int
	retryDelay time.Duration
}

// NewProcessor creates a command processor. Failures that are not user
// errors are retried up to retries times.
func NewProcessor(handler CommandHandler, m *metrics.Metrics, logger *slog.Logger, retries int, retryDelay time.Duration) *Processor {
	return &Processor{
		handler:    handler,
		metrics:    m,
		logger:     logger,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

// Decode parses a raw message into a validated command
func Decode(value []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := cmd.Validate(); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// Process decodes one message and applies it. The returned status is the
// metrics label: applied, rejected, invalid or failed.
func (p *Processor) Process(ctx context.Context, value []byte) string {
	cmd, err := Decode(value)
	if err != nil {
		p.logger.Warn("discarding invalid command", "command_id", cmd.ID, "type", cmd.Type, "error", err)
		p.metrics.RecordCommand(string(cmd.Type), "invalid")
		return "invalid"
	}

	err = p.apply(ctx, cmd)
	for attempt := 1; retryable(err) && attempt <= p.retries && ctx.Err() == nil; attempt++ {
		p.logger.Warn("retrying command", "command_id", cmd.ID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(p.retryDelay):
			err = p.apply(ctx, cmd)
		}
	}

	status := "applied"
	switch {
	case err == nil:
		p.logger.Debug("command applied", "command_id", cmd.ID, "type", cmd.Type)
	case domain.IsSoftError(err):
		status = "rejected"
		p.logger.Warn("command rejected", "command_id", cmd.ID, "type", cmd.Type, "error", err)
	default:
		status = "failed"
		p.logger.Error("command failed", "command_id", cmd.ID, "type", cmd.Type, "error", err)
	}
	p.metrics.RecordCommand(string(cmd.Type), status)
	return status
}

func retryable(err error) bool {
	return err != nil && !domain.IsSoftError(err) && !errors.Is(err, domain.ErrInvalidRequest)
}

func (p *Processor) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandCreateMatch:
		_, err := p.handler.CreateMatch(ctx, cmd.Team1, cmd.Team2)
		return err
	case CommandPrediction:
		_, err := p.handler.SubmitPredictionAt(ctx, domain.PredictionSubmission{
			MatchID:  cmd.MatchID,
			UserID:   cmd.UserID,
			Username: cmd.Username,
			Score1:   *cmd.Score1,
			Score2:   *cmd.Score2,
		}, cmd.SubmittedAt)
		return err
	case CommandResult:
		_, _, err := p.handler.MarkFinished(ctx, cmd.MatchID, *cmd.Score1, *cmd.Score2)
		return err
	}
	return fmt.Errorf("%w: unknown command type %q", domain.ErrInvalidRequest, cmd.Type)
}
