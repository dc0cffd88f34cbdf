package tensor

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// Tensor row-major float32 텐서
type Tensor struct {
	Shape []int
	Data  []float32
}

// New shape 크기의 0 텐서 생성
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, Numel(shape)),
	}
}

// FromData data 를 shape 으로 감싼 텐서 생성
func FromData(data []float32, shape ...int) (*Tensor, error) {
	if Numel(shape) != len(data) {
		return nil, errors.Errorf("Shape %v does not match %d elements", shape, len(data))
	}

	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  data,
	}, nil
}

// Numel shape 의 원소 수
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len 원소 수
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Rows 첫번째 차원 크기
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return t.Shape[0]
}

// RowSize 첫번째 차원을 제외한 원소 수
func (t *Tensor) RowSize() int {
	if len(t.Shape) == 0 {
		return 0
	}
	return Numel(t.Shape[1:])
}

// Row i 번째 행. 데이터를 공유함
func (t *Tensor) Row(i int) []float32 {
	n := t.RowSize()
	return t.Data[i*n : (i+1)*n]
}

// Clone 깊은 복사
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// Zero 모든 원소를 0 으로
func (t *Tensor) Zero() {
	for i := range t.Data {
		t.Data[i] = 0
	}
}

// SameShape shape 비교
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// Bytes little-endian 직렬화. 결정성 비교에 사용
func (t *Tensor) Bytes() []byte {
	buf := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// Stack 같은 shape 의 텐서를 새 첫번째 차원으로 쌓음
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("Empty tensors to stack")
	}

	first := ts[0]
	n := first.Len()
	out := New(append([]int{len(ts)}, first.Shape...)...)
	for i, t := range ts {
		if !t.SameShape(first) {
			return nil, errors.Errorf("Shape mismatch at %d: %v != %v", i, t.Shape, first.Shape)
		}
		copy(out.Data[i*n:], t.Data)
	}

	return out, nil
}
