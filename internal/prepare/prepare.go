// Package prepare provisions what a service needs on disk before it starts:
// an auxiliary git checkout and its volume directories with seed files.
//
// Both operations are idempotent. Existing checkouts are only pulled when asked
// and existing seed targets are never overwritten.
package prepare

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"llmn/internal/descriptor"
	"llmn/internal/process"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// Preparer works inside a repos directory and a volumes directory.
type Preparer struct {
	reposDir   string
	volumesDir string
	proc       process.Runner
}

// New creates a Preparer. A nil proc uses process.NewExec.
func New(reposDir, volumesDir string, proc process.Runner) *Preparer {
	if proc == nil {
		proc = process.NewExec()
	}
	return &Preparer{reposDir: reposDir, volumesDir: volumesDir, proc: proc}
}

// RepoPath is where repo is checked out.
func (p *Preparer) RepoPath(repo descriptor.Repo) string {
	return filepath.Join(p.reposDir, repo.Dir)
}

// PrepareRepo clones repo if missing (sparse when requested), optionally pulls
// an existing checkout, and verifies check_file. It returns a short
// description of what happened.
func (p *Preparer) PrepareRepo(ctx context.Context, service string, repo descriptor.Repo, pull bool) (string, error) {
	dir := p.RepoPath(repo)
	sparse := repo.Sparse || len(repo.SparseDir) > 0

	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(p.reposDir, 0o755); err != nil {
			return "", errors.Wrapf(err, "failed to create repos directory %s", p.reposDir)
		}

		args := []string{"-C", p.reposDir, "clone"}
		if sparse {
			args = append(args, "--filter=blob:none", "--no-checkout")
		}
		args = append(args, repo.URL, repo.Dir)
		if err := p.git(ctx, args...); err != nil {
			return "", errors.Wrapf(err, "failed to clone %s repo", service)
		}

		if sparse {
			if err := p.git(ctx, "-C", dir, "sparse-checkout", "init", "--cone"); err != nil {
				return "", err
			}
			if len(repo.SparseDir) > 0 {
				if err := p.git(ctx, append([]string{"-C", dir, "sparse-checkout", "set"}, repo.SparseDir...)...); err != nil {
					return "", err
				}
			}
			if err := p.git(ctx, "-C", dir, "checkout"); err != nil {
				return "", err
			}
		}
		logging.Info("Prepare", "Cloned %s repo into %s", service, dir)
	} else if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", dir)
	} else if pull {
		if err := p.git(ctx, "-C", dir, "pull"); err != nil {
			return "", errors.Wrapf(err, "failed to pull %s repo", service)
		}
		logging.Info("Prepare", "Pulled latest %s repo", service)
	}

	if repo.CheckFile != "" {
		if _, err := os.Stat(filepath.Join(dir, repo.CheckFile)); err != nil {
			return "", errors.WithHint(
				errors.Newf("required file %s not found in %s repo: %s", repo.CheckFile, service, dir),
				"Check the repository structure or delete the directory so it is cloned again.",
			)
		}
	}
	return service + " repo is ready", nil
}

// PrepareVolumes creates volume directories and copies seeds whose target does
// not exist yet. Seeds marked from_repo are resolved against the repo
// checkout, others against the descriptor directory.
func (p *Preparer) PrepareVolumes(ctx context.Context, d *descriptor.Descriptor) ([]string, error) {
	var notes []string
	for _, v := range d.Volumes() {
		path := filepath.Join(p.volumesDir, v)
		info, err := os.Stat(path)
		switch {
		case err == nil && !info.IsDir():
			return notes, errors.Newf("volume path %s exists but is not a directory", path)
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
			if err := os.MkdirAll(path, 0o755); err != nil {
				return notes, errors.Wrapf(err, "failed to create volume %s", path)
			}
			notes = append(notes, "created volume "+v)
		default:
			return notes, errors.Wrapf(err, "failed to stat %s", path)
		}
	}

	repo, hasRepo := d.Repo()
	for _, seed := range d.VolumeSeeds() {
		if err := ctx.Err(); err != nil {
			return notes, err
		}
		src := filepath.Join(d.Dir(), seed.Source)
		if seed.FromRepo {
			if !hasRepo {
				return notes, errors.Newf("seed %s is marked from_repo but %s has no repo", seed.Source, d.Service())
			}
			src = filepath.Join(p.RepoPath(repo), seed.Source)
		}
		dst := filepath.Join(p.volumesDir, seed.Destination)

		if _, err := os.Lstat(dst); err == nil {
			logging.Debug("Prepare", "Volume seed already exists: %s", dst)
			continue
		}
		if err := copySeed(src, dst); err != nil {
			return notes, errors.Wrapf(err, "failed to copy seed %s to %s", src, dst)
		}
		notes = append(notes, "seeded "+seed.Destination)
	}
	return notes, nil
}

func (p *Preparer) git(ctx context.Context, args ...string) error {
	_, stderr, _, err := p.proc.RunInDir(ctx, "", nil, "git", args...)
	if err != nil {
		return errors.WithDetail(err, stderr)
	}
	return nil
}

// copySeed copies src into a temporary sibling of dst and renames it into
// place, so a failed copy leaves nothing at dst.
func copySeed(src, dst string) error {
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, ".seed-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	staged := filepath.Join(tmp, filepath.Base(dst))
	if err := copyPath(src, staged); err != nil {
		return err
	}
	return os.Rename(staged, dst)
}

// copyPath copies a file or a directory tree.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := entry.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
