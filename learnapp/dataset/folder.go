package dataset

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var extensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Sample 분류 이미지 항목
type Sample struct {
	Path  string
	Label int
}

// ImageFolder <root>/<split>/<class>/* 구조의 이미지 dataset
type ImageFolder struct {
	Root    string
	Classes []string
	Samples []Sample
}

// NewImageFolder split 디렉토리를 탐색. class 는 정렬 된 디렉토리 이름 순서
func NewImageFolder(root, split string) (*ImageFolder, error) {
	dir := filepath.Join(root, split)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "Fail to read dataset split: %s", dir)
	}

	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, errors.Errorf("No class directory in %s", dir)
	}
	sort.Strings(classes)

	folder := &ImageFolder{
		Root:    dir,
		Classes: classes,
	}

	for label, class := range classes {
		files, err := os.ReadDir(filepath.Join(dir, class))
		if err != nil {
			return nil, errors.Wrapf(err, "Fail to read class: %s", class)
		}

		for _, f := range files {
			if f.IsDir() || !extensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			folder.Samples = append(folder.Samples, Sample{
				Path:  filepath.Join(dir, class, f.Name()),
				Label: label,
			})
		}
	}

	if len(folder.Samples) == 0 {
		return nil, errors.Errorf("No image in %s", dir)
	}

	return folder, nil
}

// Len 이미지 수
func (f *ImageFolder) Len() int {
	return len(f.Samples)
}

// Get idx 번째 이미지를 디코딩
func (f *ImageFolder) Get(idx int) (image.Image, int, error) {
	if idx < 0 || idx >= len(f.Samples) {
		return nil, 0, errors.Errorf("Index out of range: %d", idx)
	}
	s := f.Samples[idx]

	fp, err := os.Open(s.Path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "Fail to open image: %s", s.Path)
	}
	defer fp.Close()

	img, _, err := image.Decode(fp)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "Fail to decode image: %s", s.Path)
	}

	return img, s.Label, nil
}

// Split class 마다 every 번째 이미지를 검증용으로 분리. train/val 구분이 없는 이미지 디렉토리에 사용
func (f *ImageFolder) Split(every int) (*ImageFolder, *ImageFolder, error) {
	if every < 2 {
		return nil, nil, errors.Errorf("Invalid split interval: %d", every)
	}

	train := &ImageFolder{Root: f.Root, Classes: f.Classes}
	valid := &ImageFolder{Root: f.Root, Classes: f.Classes}

	seen := make([]int, len(f.Classes))
	for _, s := range f.Samples {
		if seen[s.Label]%every == every-1 {
			valid.Samples = append(valid.Samples, s)
		} else {
			train.Samples = append(train.Samples, s)
		}
		seen[s.Label]++
	}

	if train.Len() == 0 || valid.Len() == 0 {
		return nil, nil, errors.Errorf("Too few images to split: %d", f.Len())
	}

	return train, valid, nil
}
