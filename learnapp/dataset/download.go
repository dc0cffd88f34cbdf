package dataset

import (
	"archive/zip"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotZip 받은 archive 가 zip 이 아님
var ErrNotZip = stderrors.New("archive is not a zip file")

// 같은 target 에 대한 동시 Ensure 는 한 번만 내려받음
var ensureGroup singleflight.Group

// Source 학습 이미지 archive 정보
type Source struct {
	URL     string
	Root    string
	Dir     string
	Timeout time.Duration
}

// Path 압축 해제 된 dataset 경로
func (s Source) Path() string {
	return filepath.Join(s.Root, s.Dir)
}

// Ensure dataset 이 없으면 내려받아 압축 해제. 이미 있으면 아무것도 하지 않음
func Ensure(ctx context.Context, src Source, logger *zap.Logger) (string, error) {
	if src.Root == "" {
		src.Root = "."
	}
	target := src.Path()

	v, err, shared := ensureGroup.Do(target, func() (interface{}, error) {
		return ensure(ctx, src, logger)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Debug("Dataset download shared", zap.String("path", target))
	}

	return v.(string), nil
}

func ensure(ctx context.Context, src Source, logger *zap.Logger) (string, error) {
	target := src.Path()

	if exists(target) {
		logger.Info("Dataset already exists", zap.String("path", target))
		return target, nil
	}

	if err := os.MkdirAll(src.Root, os.ModePerm); err != nil {
		return "", errors.Wrapf(err, "Fail to create dataset root: %s", src.Root)
	}

	tmp, err := os.CreateTemp(src.Root, "download-*.zip")
	if err != nil {
		return "", errors.Wrap(err, "Fail to create temporary archive")
	}
	archive := tmp.Name()
	tmp.Close()
	defer os.Remove(archive)

	logger.Info("Downloading dataset", zap.String("url", src.URL), zap.Duration("timeout", src.Timeout))

	t0 := time.Now()
	res, err := resty.New().
		SetTimeout(src.Timeout).
		R().
		SetContext(ctx).
		SetOutput(archive).
		Get(src.URL)
	if err != nil {
		return "", errors.Wrapf(err, "Fail to download dataset: %s", src.URL)
	}
	if res.IsError() {
		return "", errors.Errorf("Fail to download dataset: %s: %s", src.URL, res.Status())
	}

	mtype, err := mimetype.DetectFile(archive)
	if err != nil {
		return "", errors.Wrap(err, "Fail to detect archive type")
	}
	if !mtype.Is("application/zip") {
		return "", errors.Wrapf(ErrNotZip, "%s", mtype.String())
	}

	// 압축 해제가 끝까지 성공한 경우에만 target 으로 옮김
	staging, err := os.MkdirTemp(src.Root, ".extract-*")
	if err != nil {
		return "", errors.Wrap(err, "Fail to create staging directory")
	}
	defer os.RemoveAll(staging)

	n, err := unzip(archive, staging)
	if err != nil {
		return "", err
	}

	extracted := filepath.Join(staging, src.Dir)
	if !exists(extracted) {
		return "", errors.Errorf("Archive does not contain %s", src.Dir)
	}

	if err := os.MkdirAll(filepath.Dir(target), os.ModePerm); err != nil {
		return "", err
	}
	if err := os.Rename(extracted, target); err != nil {
		if exists(target) {
			logger.Info("Dataset already exists", zap.String("path", target))
			return target, nil
		}
		return "", errors.Wrapf(err, "Fail to move dataset into %s", target)
	}

	logger.Info("Dataset extracted",
		zap.String("path", target),
		zap.Int("files", n),
		zap.Duration("elapsed", time.Since(t0)))

	return target, nil
}

func exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func unzip(archive, root string) (int, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return 0, errors.Wrap(err, "Fail to open archive")
	}
	defer r.Close()

	n := 0
	for _, f := range r.File {
		dst := filepath.Join(root, f.Name)
		if !inside(root, dst) {
			return n, errors.Errorf("Illegal path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, os.ModePerm); err != nil {
				return n, err
			}
			continue
		}

		if err := extract(f, dst); err != nil {
			return n, errors.Wrapf(err, "Fail to extract %s", f.Name)
		}
		n++
	}

	return n, nil
}

func inside(root, dst string) bool {
	rel, err := filepath.Rel(root, dst)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func extract(f *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), os.ModePerm); err != nil {
		return err
	}

	in, err := f.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err
}
