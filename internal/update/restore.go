package update

import (
	"context"
	"fmt"
	"time"

	"github.com/lucasnoah/skillctl/internal/backup"
	"github.com/lucasnoah/skillctl/internal/failure"
	"github.com/lucasnoah/skillctl/internal/version"
)

// Selector asks the user to pick one of options and returns its index.
type Selector interface {
	Select(ctx context.Context, title string, options []string) (int, error)
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// Tag is a backup directory name or a version; a version picks the
	// newest backup taken at that version. Empty means ask.
	Tag       string
	Selector  Selector
	Confirmer Confirmer
	AssumeYes bool
}

// Restore puts a backup's system paths back into the managed tree. It
// returns the restored backup, or nil if the user declined.
func Restore(ctx context.Context, backups *backup.Manager, opts RestoreOptions) (*backup.Backup, error) {
	list, err := backups.List()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no backups in %s", failure.ErrBackupNotFound, backups.Dir())
	}

	chosen, err := pickBackup(ctx, list, opts)
	if err != nil {
		return nil, err
	}

	if !opts.AssumeYes {
		if opts.Confirmer == nil {
			return nil, nil
		}
		ok, err := opts.Confirmer.Confirm(ctx, fmt.Sprintf("Restore backup %s (version %s)?", chosen.Name(), chosen.Tag))
		if err != nil {
			return nil, fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			return nil, nil
		}
	}

	if err := backups.RestoreBackup(chosen); err != nil {
		return nil, err
	}
	return chosen, nil
}

func pickBackup(ctx context.Context, list []backup.Backup, opts RestoreOptions) (*backup.Backup, error) {
	if opts.Tag != "" {
		for i := range list {
			if list[i].Name() == opts.Tag {
				return &list[i], nil
			}
		}
		v, err := version.Parse(opts.Tag)
		if err != nil {
			return nil, fmt.Errorf("%w: no backup named %q", failure.ErrBackupNotFound, opts.Tag)
		}
		// List is newest first.
		for i := range list {
			if version.Compare(list[i].Tag, v) == 0 {
				return &list[i], nil
			}
		}
		return nil, fmt.Errorf("%w: no backup for version %s", failure.ErrBackupNotFound, v)
	}

	if len(list) == 1 || opts.Selector == nil {
		return &list[0], nil
	}
	options := make([]string, len(list))
	for i, b := range list {
		options[i] = DescribeBackup(b)
	}
	idx, err := opts.Selector.Select(ctx, "Select a backup to restore", options)
	if err != nil {
		return nil, fmt.Errorf("select backup: %w", err)
	}
	if idx < 0 || idx >= len(list) {
		return nil, fmt.Errorf("select backup: index %d out of range", idx)
	}
	return &list[idx], nil
}

// DescribeBackup is the one-line listing used by prompts and the backups command.
func DescribeBackup(b backup.Backup) string {
	return fmt.Sprintf("%s  version %s  %s  %d paths",
		b.Name(), b.Tag, b.CreatedAt.Local().Format(time.DateTime), len(b.Paths))
}
