package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/pkg/oracle"
)

// --- Oracle Mock ---

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) ProposePlan(ctx context.Context, obj *model.DurableObject, request string) (*model.ModificationPlan, error) {
	args := m.Called(ctx, obj, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ModificationPlan), args.Error(1)
}

func (m *mockOracle) ApplyModification(ctx context.Context, obj *model.DurableObject, request string, plan *model.ModificationPlan) (*oracle.ModificationResult, error) {
	args := m.Called(ctx, obj, request, plan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.ModificationResult), args.Error(1)
}

func (m *mockOracle) ScorePreference(ctx context.Context, in oracle.ScoreInput) (*oracle.ScoreResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.ScoreResult), args.Error(1)
}

func (m *mockOracle) ScoreFactuality(ctx context.Context, in oracle.ScoreInput) (*oracle.ScoreResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.ScoreResult), args.Error(1)
}

func (m *mockOracle) ScoreConstraint(ctx context.Context, in oracle.ScoreInput) (*oracle.ScoreResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.ScoreResult), args.Error(1)
}
