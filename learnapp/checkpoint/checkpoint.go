package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Named 이름이 있는 parameter 텐서
type Named struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// Meta checkpoint 생성 정보
type Meta struct {
	Epoch     int       `json:"epoch"`
	Monitor   string    `json:"monitor,omitempty"`
	Value     float64   `json:"value"`
	Backbone  string    `json:"backbone,omitempty"`
	Classes   []string  `json:"classes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// State 모델 parameter 스냅샷
type State struct {
	Tensors []Named `json:"tensors"`
	Meta    Meta    `json:"meta"`
}

// Tensor name 의 텐서
func (s *State) Tensor(name string) (*tensor.Tensor, error) {
	for _, n := range s.Tensors {
		if n.Name == name {
			return tensor.FromData(append([]float32(nil), n.Data...), n.Shape...)
		}
	}
	return nil, errors.Errorf("No such tensor in checkpoint: %s", name)
}

// Add 텐서를 복사해 추가
func (s *State) Add(name string, t *tensor.Tensor) {
	s.Tensors = append(s.Tensors, Named{
		Name:  name,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	})
}

// Save 임시 파일에 쓴 뒤 rename 하여 path 를 덮어씀
func Save(path string, s *State) error {
	if s.Meta.CreatedAt.IsZero() {
		s.Meta.CreatedAt = time.Now()
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return errors.Wrapf(err, "Fail to create checkpoint dir: %s", dir)
		}
	}

	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "Fail to encode checkpoint")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return errors.Wrapf(err, "Fail to write checkpoint: %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "Fail to replace checkpoint: %s", path)
	}

	return nil
}

// Load path 의 checkpoint 를 읽음
func Load(path string) (*State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "Fail to read checkpoint: %s", path)
	}

	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrapf(err, "Fail to decode checkpoint: %s", path)
	}

	for _, n := range s.Tensors {
		if tensor.Numel(n.Shape) != len(n.Data) {
			return nil, errors.Errorf("Corrupt tensor %s: shape %v, %d values", n.Name, n.Shape, len(n.Data))
		}
	}

	return &s, nil
}
