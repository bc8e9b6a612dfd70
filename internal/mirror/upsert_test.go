package mirror

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestRecord() *Record {
	return &Record{
		PullNumber:     42,
		Title:          "add frobnicator",
		Body:           "body of add frobnicator",
		HeadSHA:        "abcdef1",
		Branch:         "mirror/pr-42-feature-x",
		OverlayBranch:  "overlay/main-1234567",
		MergeBaseShort: "1234567",
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	gh := &MockGithubClient{}
	rec := newTestRecord()

	wantTitle := "UPSTREAM PR #42: add frobnicator"
	wantBody := "Mirrors upstream/widgets#42: https://github.com/upstream/widgets/pull/42" +
		"\n\n---\n\n" + rec.Body

	git.On("RevParse", rec.HeadSHA+"^{commit}").Return(rec.HeadSHA, nil)
	git.On("Push", target.DownstreamURL, rec.HeadSHA, rec.Branch, true).Return(nil).Twice()

	// the mirror pull request does not exist on the first run and exists
	// on the second
	gh.On("ListOpenPullRequestsByHeadBase",
		target.DownstreamOwner, target.DownstreamRepo,
		target.DownstreamOwner+":"+rec.Branch, target.DefaultBranch).
		Return([]*github.PullRequest{}, nil).Once()
	gh.On("CreatePullRequest",
		target.DownstreamOwner, target.DownstreamRepo,
		wantTitle, wantBody, rec.Branch, target.DefaultBranch).
		Return(newOpenPR(7, wantTitle, rec.HeadSHA, rec.Branch, time.Now()), nil).Once()
	gh.On("ListOpenPullRequestsByHeadBase",
		target.DownstreamOwner, target.DownstreamRepo,
		target.DownstreamOwner+":"+rec.Branch, target.DefaultBranch).
		Return([]*github.PullRequest{newOpenPR(7, wantTitle, rec.HeadSHA, rec.Branch, time.Now())}, nil).Once()

	u := NewUpserter(gh, git, noRetryRetryer{}, target)

	require.NoError(t, u.Upsert(context.Background(), rec))
	require.NoError(t, u.Upsert(context.Background(), rec))

	gh.AssertNumberOfCalls(t, "CreatePullRequest", 1)
	git.AssertExpectations(t)
	gh.AssertExpectations(t)
}

func TestUpsertPendingSkipsPullRequestStep(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	gh := &MockGithubClient{}
	rec := newTestRecord()

	git.On("RevParse", rec.HeadSHA+"^{commit}").Return(rec.HeadSHA, nil)
	git.On("Push", target.DownstreamURL, rec.HeadSHA, "pending/pr-42-feature-x", true).
		Return(nil).Once()

	u := NewUpserter(gh, git, noRetryRetryer{}, target, WithPendingNamespace())

	require.NoError(t, u.Upsert(context.Background(), rec))

	gh.AssertNotCalled(t, "ListOpenPullRequestsByHeadBase",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	gh.AssertNotCalled(t, "CreatePullRequest",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	git.AssertExpectations(t)
}

func TestUpsertRoutesToOverlayBase(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	gh := &MockGithubClient{}

	rec := newTestRecord()
	rec.UseOverlayBase = true

	git.On("RevParse", rec.HeadSHA+"^{commit}").Return(rec.HeadSHA, nil)
	git.On("Push", target.DownstreamURL, rec.HeadSHA, rec.Branch, true).Return(nil).Once()

	gh.On("ListOpenPullRequestsByHeadBase",
		target.DownstreamOwner, target.DownstreamRepo,
		target.DownstreamOwner+":"+rec.Branch, rec.OverlayBranch).
		Return([]*github.PullRequest{}, nil).Once()
	gh.On("CreatePullRequest",
		target.DownstreamOwner, target.DownstreamRepo,
		mock.Anything, mock.Anything, rec.Branch, rec.OverlayBranch).
		Return(newOpenPR(7, "t", rec.HeadSHA, rec.Branch, time.Now()), nil).Once()

	u := NewUpserter(gh, git, noRetryRetryer{}, target)

	require.NoError(t, u.Upsert(context.Background(), rec))
	gh.AssertExpectations(t)
}

func TestUpsertFetchFallsBackToRawCommit(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	gh := &MockGithubClient{}
	rec := newTestRecord()

	// the commit is initially unknown and the pull-request head ref was
	// deleted upstream, only fetching the raw commit ID succeeds
	git.On("RevParse", rec.HeadSHA+"^{commit}").
		Return("", errors.New("unknown revision")).Once()
	git.On("Fetch", target.UpstreamURL, []string{"+refs/pull/42/head:refs/prmirror/pr/42"}).
		Return(errors.New("couldn't find remote ref")).Once()
	git.On("Fetch", target.UpstreamURL, []string{rec.HeadSHA}).Return(nil).Once()
	git.On("RevParse", rec.HeadSHA+"^{commit}").Return(rec.HeadSHA, nil)

	git.On("Push", target.DownstreamURL, rec.HeadSHA, rec.Branch, true).Return(nil).Once()

	gh.On("ListOpenPullRequestsByHeadBase",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*github.PullRequest{newOpenPR(7, "t", rec.HeadSHA, rec.Branch, time.Now())}, nil).Once()

	u := NewUpserter(gh, git, noRetryRetryer{}, target)

	require.NoError(t, u.Upsert(context.Background(), rec))
	git.AssertExpectations(t)
}

func TestUpsertFailsWhenAllFetchStrategiesFail(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	rec := newTestRecord()

	git.On("RevParse", rec.HeadSHA+"^{commit}").Return("", errors.New("unknown revision"))
	git.On("Fetch", target.UpstreamURL, []string{"+refs/pull/42/head:refs/prmirror/pr/42"}).
		Return(errors.New("couldn't find remote ref")).Once()
	git.On("Fetch", target.UpstreamURL, []string{rec.HeadSHA}).
		Return(errors.New("server does not allow request for unadvertised object")).Once()

	u := NewUpserter(&MockGithubClient{}, git, noRetryRetryer{}, target)

	err := u.Upsert(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all strategies exhausted")

	git.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpsertDoesNotCreateSecondPRForDuplicates(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	gh := &MockGithubClient{}
	rec := newTestRecord()

	git.On("RevParse", rec.HeadSHA+"^{commit}").Return(rec.HeadSHA, nil)
	git.On("Push", target.DownstreamURL, rec.HeadSHA, rec.Branch, true).Return(nil).Once()

	gh.On("ListOpenPullRequestsByHeadBase",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*github.PullRequest{
			newOpenPR(7, "first", rec.HeadSHA, rec.Branch, time.Now()),
			newOpenPR(8, "second", rec.HeadSHA, rec.Branch, time.Now()),
		}, nil).Once()

	u := NewUpserter(gh, git, noRetryRetryer{}, target)

	require.NoError(t, u.Upsert(context.Background(), rec))
	gh.AssertNotCalled(t, "CreatePullRequest",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessAllContinuesAfterRecordFailure(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	target := newTestTarget()
	git := &MockGitClient{}
	gh := &MockGithubClient{}

	broken := newTestRecord()
	fine := newTestRecord()
	fine.PullNumber = 43
	fine.Branch = "mirror/pr-43-feature-y"
	fine.HeadSHA = "bbb0002"

	git.On("RevParse", broken.HeadSHA+"^{commit}").Return(broken.HeadSHA, nil)
	git.On("Push", target.DownstreamURL, broken.HeadSHA, broken.Branch, true).
		Return(errors.New("remote rejected")).Once()

	git.On("RevParse", fine.HeadSHA+"^{commit}").Return(fine.HeadSHA, nil)
	git.On("Push", target.DownstreamURL, fine.HeadSHA, fine.Branch, true).Return(nil).Once()
	gh.On("ListOpenPullRequestsByHeadBase",
		mock.Anything, mock.Anything, target.DownstreamOwner+":"+fine.Branch, mock.Anything).
		Return([]*github.PullRequest{newOpenPR(9, "t", fine.HeadSHA, fine.Branch, time.Now())}, nil).Once()

	u := NewUpserter(gh, git, noRetryRetryer{}, target)

	stats, err := u.ProcessAll(context.Background(), []*Record{broken, fine})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("pull request #%d", broken.PullNumber))

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Upserted)
	assert.Equal(t, 1, stats.Failures)
	git.AssertExpectations(t)
}

func TestUpsertRejectsInvalidRecord(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	rec := newTestRecord()
	rec.HeadSHA = ""

	u := NewUpserter(&MockGithubClient{}, &MockGitClient{}, noRetryRetryer{}, newTestTarget())

	err := u.Upsert(context.Background(), rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid record")
}
