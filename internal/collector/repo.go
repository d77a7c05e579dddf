package collector

import (
	"net/url"
	"strings"

	"github.com/kurihiro0119/repo-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/repo-harvester/internal/errors"
)

const invalidRepoMessage = "Invalid repository URL. Make sure it is in the format 'https://github.com/owner/repo'."

// ParseRepository extracts owner and name from a repository URL.
// "https://github.com/owner/repo", "github.com/owner/repo" and "owner/repo"
// are accepted; a trailing ".git" or slash is ignored.
func ParseRepository(raw string) (domain.Repository, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Repository{}, apperrors.NewBadRequestError(invalidRepoMessage)
	}

	path := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return domain.Repository{}, apperrors.NewBadRequestError(invalidRepoMessage)
		}
		path = u.Path
	} else if host, rest, ok := strings.Cut(raw, "/"); ok && strings.Contains(host, ".") {
		path = rest
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return domain.Repository{}, apperrors.NewBadRequestError(invalidRepoMessage)
	}
	return domain.Repository{Owner: parts[0], Name: parts[1]}, nil
}
