package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/params"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// ParamService canonicalises and interns tool parameters.
type ParamService interface {
	// Canonicalize validates raw parameters for version and mode. Contradictions
	// are bad requests.
	Canonicalize(version models.ToolVersion, mode models.CalcMode, raw map[string]json.RawMessage) (params.Params, error)

	// Intern returns the id of the parameter record for (version, p).
	Intern(ctx context.Context, version models.ToolVersion, p params.Params) (int64, error)
}

type paramService struct {
	db     database.Handle
	repo   repositories.ParamRepository
	logger *zap.Logger
}

func NewParamService(db database.Handle, repo repositories.ParamRepository, logger *zap.Logger) ParamService {
	return &paramService{
		db:     db,
		repo:   repo,
		logger: logger.Named("param-service"),
	}
}

var _ ParamService = (*paramService)(nil)

func (s *paramService) Canonicalize(version models.ToolVersion, mode models.CalcMode, raw map[string]json.RawMessage) (params.Params, error) {
	p, err := params.Canonicalize(version, mode, raw)
	if err != nil {
		return nil, apperrors.BadRequest("%s", err.Error())
	}
	return p, nil
}

func (s *paramService) Intern(ctx context.Context, version models.ToolVersion, p params.Params) (int64, error) {
	data, err := params.Marshal(p)
	if err != nil {
		return 0, apperrors.Internal(err, "failed to intern parameters")
	}
	id, err := s.repo.Intern(ctx, s.db.Q(), string(version), data)
	if err != nil {
		s.logger.Error("Failed to intern parameters",
			zap.String("version", string(version)),
			zap.ByteString("params", data),
			zap.Error(err))
		return 0, apperrors.Internal(err, "failed to intern parameters")
	}
	return id, nil
}
