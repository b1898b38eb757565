package bugtool

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/tabletsync/cmd/util"
	"github.com/sidkik/tabletsync/pkg/config"
	"github.com/sidkik/tabletsync/pkg/errors"
	"github.com/sidkik/tabletsync/pkg/materialize"
	"github.com/sidkik/tabletsync/pkg/remote"
	"github.com/sidkik/tabletsync/pkg/version"
)

// Mocked out for unit testing.
var (
	fs                          = afero.NewOsFs()
	stdout            io.Writer = os.Stdout
	loadConfig                  = util.LoadConfig
	readRemoteVersion           = remote.Version
	now                         = time.Now
)

const redacted = "<redacted>"

// New creates a new `bug-tool` command.
func New() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bug-tool",
		Short: "Generate an archive for debugging tabletsync",
		Run: func(cmd *cobra.Command, _ []string) {
			if err := main(cmd.Context(), out); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "path for archive")
	return cmd
}

func main(ctx context.Context, out string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tmpdir, err := afero.TempDir(fs, "", "tabletsync-bug-tool")
	if err != nil {
		return errors.NewFriendlyError("Failed to create out directory:\n%s", err)
	}

	defer func() {
		if err := fs.RemoveAll(tmpdir); err != nil {
			log.WithError(err).WithField("path", tmpdir).Warn("Failed to remove temporary directory")
		}
	}()

	setupInfo(ctx, tmpdir, cfg)

	if out == "" {
		out = fmt.Sprintf("tabletsync-bug-info-%s.tar.gz",
			now().Format("Jan_02_2006-15-04-05"))
	}
	if err := tarDirectory(tmpdir, out); err != nil {
		return errors.NewFriendlyError("Failed to tar:\n%s", err)
	}

	msg := `Created bug information archive at '%s'.
The archive contains:
 * The tabletsync config, with the password and key passphrase removed.
 * The version of tabletsync and of the tablet firmware.
 * The catalog.
 * The record of where documents were organized.
 * The names, sizes and modification times of the mirrored files.
It doesn't contain the contents of any document.
`
	fmt.Fprintf(stdout, msg, out)
	return nil
}

// setupInfo collects whatever it can. Failures are logged rather than
// returned so that a broken piece doesn't prevent the rest from being
// archived.
func setupInfo(ctx context.Context, root string, cfg config.Config) {
	if err := setupConfig(root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup config")
	}

	if err := setupVersion(ctx, root, cfg); err != nil {
		log.WithError(err).Warn("Failed to setup version info")
	}

	if err := copyFile(cfg.CatalogPath(), filepath.Join(root, "catalog.json")); err != nil {
		log.WithError(err).Warn("Failed to setup catalog")
	}

	statePath := filepath.Join(cfg.OrganizedDir(), materialize.StateFile)
	if err := copyFile(statePath, filepath.Join(root, "organize-state.json")); err != nil {
		log.WithError(err).Warn("Failed to setup organize state")
	}

	if err := setupRawListing(filepath.Join(root, "raw-listing.txt"), cfg.RawDir()); err != nil {
		log.WithError(err).Warn("Failed to setup raw listing")
	}
}

func setupConfig(root string, cfg config.Config) error {
	if cfg.Password != "" {
		cfg.Password = redacted
	}
	if cfg.KeyPassphrase != "" {
		cfg.KeyPassphrase = redacted
	}

	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, filepath.Join(root, "config.yaml"), cfgBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func setupVersion(ctx context.Context, root string, cfg config.Config) error {
	outdir := filepath.Join(root, "version")
	if err := fs.Mkdir(outdir, 0755); err != nil {
		return errors.WithContext(err, "mkdir")
	}

	localOut, err := fs.Create(filepath.Join(outdir, "local"))
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer localOut.Close()
	fmt.Fprintf(localOut, "local version:  %s\n", version.String())

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	remoteVersion, err := readRemoteVersion(ctx, remote.CredentialsFromConfig(cfg))
	if err != nil {
		return errors.WithContext(err, "get tablet version")
	}

	tabletOut, err := fs.Create(filepath.Join(outdir, "tablet"))
	if err != nil {
		return errors.WithContext(err, "create")
	}
	defer tabletOut.Close()
	fmt.Fprintf(tabletOut, "tablet version: %s\n", remoteVersion)
	return nil
}

// setupRawListing records the metadata of every mirrored file, which is
// usually enough to debug the sync without the document contents.
func setupRawListing(out, rawDir string) error {
	outFile, err := fs.Create(out)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer outFile.Close()

	return afero.Walk(fs, rawDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(rawDir, path)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s", path))
		}

		_, err = fmt.Fprintf(outFile, "%s\t%d\t%s\n", filepath.ToSlash(relPath),
			fi.Size(), fi.ModTime().UTC().Format(time.RFC3339))
		return err
	})
}

func copyFile(src, dst string) error {
	srcFile, err := fs.Open(src)
	if err != nil {
		return errors.WithContext(err, "open")
	}
	defer srcFile.Close()

	outFile, err := fs.Create(dst)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, srcFile); err != nil {
		return errors.WithContext(err, "copy")
	}
	return nil
}

func tarDirectory(src, outPath string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "open destination")
	}
	defer out.Close()

	gzw := gzip.NewWriter(out)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return afero.Walk(fs, src, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		header, err := tar.FileInfoHeader(fi, fi.Name())
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("make header %s", file))
		}

		relPath, err := filepath.Rel(src, file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("get relative path of %s to %s", file, src))
		}

		header.Name = filepath.ToSlash(filepath.Join("tabletsync-bug-info", relPath))
		if err := tw.WriteHeader(header); err != nil {
			return errors.WithContext(err, fmt.Sprintf("write %s header", file))
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := fs.Open(file)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("open %s", file))
		}
		defer f.Close()

		if _, err := io.Copy(tw, f); err != nil {
			return errors.WithContext(err, fmt.Sprintf("copy %s", file))
		}
		return nil
	})
}
