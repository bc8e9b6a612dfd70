// Package githubclt provides a github API client.
package githubclt

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/forkops/prmirror/internal/logfields"
	"github.com/forkops/prmirror/internal/retryerr"
)

const DefaultHTTPClientTimeout = time.Minute

const loggerName = "github_client"

// New returns a new github api client.
func New(oauthAPItoken string) *Client {
	httpClient := newHTTPClient(oauthAPItoken)
	return &Client{
		restClt: github.NewClient(httpClient),
		logger:  zap.L().Named(loggerName),
	}
}

func newHTTPClient(apiToken string) *http.Client {
	if apiToken == "" {
		return &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: apiToken},
	)

	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = DefaultHTTPClientTimeout

	return tc
}

// Client is a github API client.
// All methods return a retryerr.RetryableError when an operation can be
// retried. This can be e.g. the case when the API ratelimit is exceeded.
type Client struct {
	restClt *github.Client
	logger  *zap.Logger
}

// GetPullRequest returns the current state of a single pull request.
func (clt *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*github.PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return pr, nil
}

// ListOpenPullRequestsByHeadBase returns all open pull requests whose head
// is headOwnerBranch (in "owner:branch" notation) and whose base branch is
// baseBranch.
func (clt *Client) ListOpenPullRequestsByHeadBase(ctx context.Context, owner, repo, headOwnerBranch, baseBranch string) ([]*github.PullRequest, error) {
	prs, _, err := clt.restClt.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State: "open",
		Head:  headOwnerBranch,
		Base:  baseBranch,
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	return prs, nil
}

// CreatePullRequest opens a new pull request.
func (clt *Client) CreatePullRequest(ctx context.Context, owner, repo, title, body, headBranch, baseBranch string) (*github.PullRequest, error) {
	pr, _, err := clt.restClt.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: &title,
		Body:  &body,
		Head:  &headBranch,
		Base:  &baseBranch,
	})
	if err != nil {
		return nil, clt.wrapRetryableErrors(err)
	}

	clt.logger.Info(
		"pull request created",
		logfields.Event("github_pull_request_created"),
		logfields.Repository(fmt.Sprintf("%s/%s", owner, repo)),
		logfields.PullRequest(pr.GetNumber()),
		logfields.Branch(headBranch),
		logfields.BaseBranch(baseBranch),
	)

	return pr, nil
}

type PRIterator interface {
	Next() (*github.PullRequest, error)
}

type PRIter struct {
	clt *Client

	ctx   context.Context
	owner string
	repo  string

	baseBranch string

	unseen []*github.PullRequest

	nextPage int
	finished bool
}

// Next returns the next pull request.
// When the last result was returned a nil PullRequest is returned.
func (it *PRIter) Next() (*github.PullRequest, error) {
	if len(it.unseen) > 0 {
		result := it.unseen[0]
		it.unseen = it.unseen[1:]

		return result, nil
	}

	if it.finished {
		return nil, nil
	}

	prs, resp, err := it.clt.restClt.PullRequests.List(it.ctx, it.owner, it.repo, &github.PullRequestListOptions{
		State:     "open",
		Base:      it.baseBranch,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: github.ListOptions{
			Page:    it.nextPage,
			PerPage: 100,
		},
	})
	if err != nil {
		return nil, it.clt.wrapRetryableErrors(err)
	}

	if resp.NextPage == 0 || len(prs) == 0 {
		it.finished = true
	} else {
		it.nextPage = resp.NextPage
	}

	it.unseen = prs

	if len(it.unseen) == 0 {
		return nil, nil
	}

	return it.Next()
}

// ListOpenPullRequests returns an iterator over all open pull requests
// targeting baseBranch, ordered by update time, most recently updated first.
func (clt *Client) ListOpenPullRequests(ctx context.Context, owner, repo, baseBranch string) PRIterator { // interface is returned to make the method mockable
	return &PRIter{
		clt:        clt,
		ctx:        ctx,
		owner:      owner,
		repo:       repo,
		baseBranch: baseBranch,
		nextPage:   1,
	}
}

func (clt *Client) wrapRetryableErrors(err error) error {
	switch v := err.(type) {
	case *github.RateLimitError:
		clt.logger.Info(
			"rate limit exceeded",
			logfields.Event("github_api_rate_limit_exceeded"),
			zap.Int("github_api_rate_limit", v.Rate.Limit),
			zap.Time("github_api_rate_limit_reset_time", v.Rate.Reset.Time),
		)

		return retryerr.NewRetryableError(err, v.Rate.Reset.Time)

	case *github.ErrorResponse:
		if v.Response.StatusCode >= 500 && v.Response.StatusCode < 600 {
			return retryerr.NewRetryableAnytimeError(err)
		}
	}

	return err
}
