package wordpress

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"filippo.io/age"

	"github.com/wpsave/wpsave/internal/types"
	"github.com/wpsave/wpsave/pkg/utils"
)

var osOpen = os.Open

// BuildArchive tars the site tree and the database dump into
// backup_<domain>_<timestamp>.tar.gz under the configured backup directory.
// When archive encryption is enabled the stream is additionally wrapped with
// age and the artifact gets a .age suffix. The site tree is stored under
// files/, the dump at the archive root.
func (p *Producer) BuildArchive(ctx context.Context, workDir, dumpPath string) (*types.ArtifactInfo, error) {
	timestamp := p.now()
	name := fmt.Sprintf("backup_%s_%s.tar.gz", p.cfg.Domain, timestamp.Format("20060102_150405"))

	var recipients []age.Recipient
	if p.cfg.EncryptArchive {
		for _, rec := range p.cfg.AgeRecipients {
			recipient, err := age.ParseX25519Recipient(rec)
			if err != nil {
				return nil, fmt.Errorf("parse age recipient %q: %w", rec, err)
			}
			recipients = append(recipients, recipient)
		}
		if len(recipients) == 0 {
			return nil, fmt.Errorf("encryption enabled but no age recipients configured")
		}
		name += ".age"
	}

	if err := os.MkdirAll(p.cfg.BackupDir, 0700); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	outputPath := filepath.Join(p.cfg.BackupDir, name)

	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return nil, fmt.Errorf("create archive file: %w", err)
	}

	hash := sha256.New()
	if err := p.writeArchive(ctx, io.MultiWriter(outFile, hash), recipients, dumpPath); err != nil {
		outFile.Close()
		os.Remove(outputPath)
		return nil, err
	}
	if err := outFile.Close(); err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("close archive file: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	artifact := &types.ArtifactInfo{
		Path:      outputPath,
		Name:      name,
		Timestamp: timestamp,
		Size:      info.Size(),
		Checksum:  hex.EncodeToString(hash.Sum(nil)),
		Encrypted: p.cfg.EncryptArchive,
	}
	p.logger.Debug("Archive created: %s (%s, sha256 %s)", outputPath, utils.FormatBytes(artifact.Size), artifact.Checksum)
	return artifact, nil
}

func (p *Producer) writeArchive(ctx context.Context, base io.Writer, recipients []age.Recipient, dumpPath string) (err error) {
	writer := base
	if len(recipients) > 0 {
		encWriter, encErr := age.Encrypt(base, recipients...)
		if encErr != nil {
			return fmt.Errorf("initialize age encryption: %w", encErr)
		}
		defer func() {
			if cerr := encWriter.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("finalize encrypted archive: %w", cerr)
			}
		}()
		writer = encWriter
		p.logger.Debug("Encrypting archive via age (streaming)")
	}

	gzWriter := gzip.NewWriter(writer)
	defer func() {
		if cerr := gzWriter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("finalize gzip stream: %w", cerr)
		}
	}()

	tarWriter := tar.NewWriter(gzWriter)
	defer func() {
		if cerr := tarWriter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("finalize tar stream: %w", cerr)
		}
	}()

	if err := p.addFile(tarWriter, dumpPath, "database.sql.gz"); err != nil {
		return fmt.Errorf("add database dump: %w", err)
	}
	if err := p.addTree(ctx, tarWriter, p.cfg.WPPath, "files"); err != nil {
		return fmt.Errorf("add site files: %w", err)
	}
	return nil
}

// addFile writes a single regular file into the archive under the given name.
func (p *Producer) addFile(tarWriter *tar.Writer, path, archiveName string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = archiveName
	if err := tarWriter.WriteHeader(header); err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(tarWriter, file)
	return err
}

// addTree walks sourceDir and adds every entry under baseInArchive, honoring
// the configured exclude patterns. Unreadable entries are logged and skipped
// so one bad file does not fail the whole archive.
func (p *Producer) addTree(ctx context.Context, tarWriter *tar.Writer, sourceDir, baseInArchive string) error {
	return filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			p.logger.Warning("Error accessing path %s: %v", path, err)
			return nil
		}

		relPath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if p.excluded(relPath) {
			p.logger.Debug("Excluded from archive: %s", relPath)
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		linkInfo, err := os.Lstat(path)
		if err != nil {
			p.logger.Warning("Failed to stat path %s: %v", path, err)
			return nil
		}

		var linkTarget string
		if linkInfo.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				p.logger.Warning("Failed to read symlink %s: %v", path, err)
				return nil
			}
		}

		archiveName := filepath.ToSlash(filepath.Join(baseInArchive, relPath))

		if !linkInfo.Mode().IsRegular() {
			header, err := tar.FileInfoHeader(linkInfo, linkTarget)
			if err != nil {
				p.logger.Warning("Failed to create header for %s: %v", path, err)
				return nil
			}
			applyOwner(header, linkInfo)
			header.Name = archiveName
			if err := tarWriter.WriteHeader(header); err != nil {
				return fmt.Errorf("write tar header: %w", err)
			}
			return nil
		}

		// Open before the header goes out. A header already committed to the
		// stream promises Size bytes, so an entry that cannot be read must be
		// skipped entirely, not half-written.
		file, err := osOpen(path)
		if err != nil {
			p.logger.Warning("Failed to open file %s, skipping: %v", path, err)
			return nil
		}

		info, err = file.Stat()
		if err != nil {
			file.Close()
			p.logger.Warning("Failed to stat file %s, skipping: %v", path, err)
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			file.Close()
			p.logger.Warning("Failed to create header for %s: %v", path, err)
			return nil
		}
		applyOwner(header, info)
		header.Name = archiveName

		if err := tarWriter.WriteHeader(header); err != nil {
			file.Close()
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := io.Copy(tarWriter, file); err != nil {
			file.Close()
			return fmt.Errorf("write %s to archive: %w", relPath, err)
		}
		return file.Close()
	})
}

func applyOwner(header *tar.Header, info os.FileInfo) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		header.Uid = int(stat.Uid)
		header.Gid = int(stat.Gid)
	}
}

// excluded reports whether a path relative to the site root matches one of
// the configured exclude patterns. Patterns match the base name or the full
// relative path.
func (p *Producer) excluded(relPath string) bool {
	base := filepath.Base(relPath)
	for _, pattern := range p.cfg.ExcludePatterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}
