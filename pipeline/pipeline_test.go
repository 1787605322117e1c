package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/aragog/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doneResult(shop string, published int) *models.CrawlResult {
	res := models.NewCrawlResult("id-"+shop, shop, "http://"+shop+".test/")
	res.State = models.StateDone
	res.PublishedCount = published
	res.PublishOutcomes["success"] = published
	return res
}

func TestRunnerJoinsAllJobs(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	r.Start(3)

	for _, shop := range []string{"a", "b", "c"} {
		shop := shop
		require.NoError(t, r.Submit(Job{Shop: shop, Crawl: func(context.Context) (*models.CrawlResult, error) {
			return doneResult(shop, 2), nil
		}}))
	}

	outcomes, err := r.Close()
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	metrics := r.GetMetrics()
	assert.Equal(t, int64(3), metrics["completed"])
	assert.Equal(t, int64(6), metrics["published"])
	assert.Equal(t, map[string]int{"success": 6}, metrics["publish_outcomes"])
}

func TestRunnerJobsRunConcurrently(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	r.Start(2)

	var running int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	crawl := func(context.Context) (*models.CrawlResult, error) {
		atomic.AddInt32(&running, 1)
		wg.Done()
		<-release
		return doneResult("x", 0), nil
	}

	require.NoError(t, r.Submit(Job{Shop: "one", Crawl: crawl}))
	require.NoError(t, r.Submit(Job{Shop: "two", Crawl: crawl}))

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatalf("jobs did not run in parallel, running=%d", atomic.LoadInt32(&running))
	}
	close(release)

	_, err := r.Close()
	require.NoError(t, err)
}

func TestRunnerJoinsFailures(t *testing.T) {
	errBoom := errors.New("retries exhausted")

	r := NewRunner(context.Background(), nil)
	r.Start(2)

	require.NoError(t, r.Submit(Job{Shop: "ok", Crawl: func(context.Context) (*models.CrawlResult, error) {
		return doneResult("ok", 1), nil
	}}))
	require.NoError(t, r.Submit(Job{Shop: "broken", Crawl: func(context.Context) (*models.CrawlResult, error) {
		res := doneResult("broken", 1)
		res.State = models.StateAborted
		return res, errBoom
	}}))

	outcomes, err := r.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, outcomes, 2)

	metrics := r.GetMetrics()
	assert.Equal(t, int64(1), metrics["aborted"])
	assert.Equal(t, int64(1), metrics["completed"])
	// offers published before the abort still count
	assert.Equal(t, int64(2), metrics["published"])
}

func TestRunnerSubmitAfterClose(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	r.Start(1)
	_, err := r.Close()
	require.NoError(t, err)

	err = r.Submit(Job{Shop: "late", Crawl: func(context.Context) (*models.CrawlResult, error) {
		return nil, nil
	}})
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestRunnerRejectsEmptyJob(t *testing.T) {
	r := NewRunner(context.Background(), nil)
	assert.Error(t, r.Submit(Job{Shop: "nothing"}))
}

func TestRunnerPassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRunner(ctx, nil)
	r.Start(1)
	require.NoError(t, r.Submit(Job{Shop: "cancelled", Crawl: func(ctx context.Context) (*models.CrawlResult, error) {
		return nil, ctx.Err()
	}}))

	outcomes, err := r.Close()
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].Result)
}
