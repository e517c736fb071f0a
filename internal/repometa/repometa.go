// Package repometa resolves GitHub repository metadata for launched runs.
package repometa

import (
	"context"
	"fmt"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/coderoom-live/coderoom/internal/protocol"
	"github.com/coderoom-live/coderoom/internal/runner"
)

// Lookup fetches repository metadata from the GitHub API. The zero token is
// fine for public repositories; a token raises the rate limit and covers
// private ones.
type Lookup struct {
	client *github.Client
}

// NewLookup creates a metadata lookup, authenticated when token is non-empty.
func NewLookup(token string) *Lookup {
	if token == "" {
		return &Lookup{client: github.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Lookup{client: github.NewClient(tc)}
}

// Lookup resolves the repository behind a GitHub URL.
func (l *Lookup) Lookup(ctx context.Context, repoURL string) (*protocol.Repository, error) {
	owner, name, err := runner.OwnerRepoFromURL(repoURL)
	if err != nil {
		return nil, err
	}

	repo, _, err := l.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository %s/%s: %w", owner, name, err)
	}

	return convertRepository(repo), nil
}

func convertRepository(repo *github.Repository) *protocol.Repository {
	meta := &protocol.Repository{
		Name: repo.GetName(),
		URL:  repo.GetHTMLURL(),
	}
	if owner := repo.GetOwner(); owner != nil {
		meta.Owner = owner.GetLogin()
		meta.AvatarURL = owner.GetAvatarURL()
	}
	return meta
}
