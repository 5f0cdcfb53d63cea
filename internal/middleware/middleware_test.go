package middleware

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/chatgate-bot/chatgate/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// recorder notes hook invocations in order.
type recorder struct {
	name string
	log  *[]string
}

func (r *recorder) HandleRequest(ctx context.Context, req *models.Request, resp *models.Response, next Next) error {
	*r.log = append(*r.log, r.name+":req:in")
	err := next(ctx)
	*r.log = append(*r.log, r.name+":req:out")
	return err
}

func (r *recorder) HandleRespond(ctx context.Context, req *models.Request, resp *models.Response, artifact *models.Artifact, next RespondNext) error {
	*r.log = append(*r.log, r.name+":respond")
	return next(ctx, artifact)
}

func (r *recorder) HandleRespondCompleted(ctx context.Context, req *models.Request, resp *models.Response) {
	*r.log = append(*r.log, r.name+":completed")
}

func TestChain_RequestOrderIsOuterToInner(t *testing.T) {
	var trace []string
	chain := NewChain(
		&recorder{name: "a", log: &trace},
		&recorder{name: "b", log: &trace},
	)

	req := &models.Request{SessionID: "friend-1"}
	resp := models.NewResponse(nil)

	err := chain.ExecuteRequest(context.Background(), req, resp, func(ctx context.Context) error {
		trace = append(trace, "final")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a:req:in", "b:req:in", "final", "b:req:out", "a:req:out"}, trace)
}

func TestChain_RespondRunsEveryHook(t *testing.T) {
	var trace []string
	chain := NewChain(
		&recorder{name: "a", log: &trace},
		&recorder{name: "b", log: &trace},
	)

	req := &models.Request{SessionID: "friend-1"}
	resp := models.NewResponse(nil)

	err := chain.ExecuteRespond(context.Background(), req, resp, models.TextArtifact("x"), func(ctx context.Context, a *models.Artifact) error {
		trace = append(trace, "deliver:"+a.Text)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a:respond", "b:respond", "deliver:x"}, trace)
}

func TestChain_CompletedNotifiesAll(t *testing.T) {
	var trace []string
	chain := NewChain(
		&recorder{name: "a", log: &trace},
		&recorder{name: "b", log: &trace},
	)

	chain.Completed(context.Background(), &models.Request{}, models.NewResponse(nil))
	require.Equal(t, []string{"a:completed", "b:completed"}, trace)
}
