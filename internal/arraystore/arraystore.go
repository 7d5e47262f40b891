// Package arraystore implements a single-file container of named N-dimensional
// datasets with random region read/write.
//
// File layout:
//
//	"NDAS1\n"
//	repeated: uint64 LE header length | JSON header | raw C-order little-endian payload
//
// Datasets are appended; the payload of a new dataset is zero-filled.
package arraystore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/me/clusterize/pkg/model"
)

const magic = "NDAS1\n"

// Sentinel errors.
var (
	ErrNoDataset = errors.New("dataset not found")
	ErrExists    = errors.New("dataset already exists")
	ErrReadOnly  = errors.New("container opened read-only")
	ErrCorrupt   = errors.New("corrupt container")
)

// Meta is the metadata attached to a dataset.
type Meta struct {
	Shape []int       `json:"shape"`
	DType model.DType `json:"dtype"`
	Axes  []string    `json:"axes"`
}

// Validate checks the metadata is internally consistent.
func (m Meta) Validate() error {
	if len(m.Shape) == 0 {
		return fmt.Errorf("dataset has rank 0")
	}
	if !m.DType.Valid() {
		return fmt.Errorf("unsupported dtype %q", m.DType)
	}
	// The payload size must fit in an int64 file offset.
	limit := int64(math.MaxInt64 / m.DType.ItemSize())
	n := int64(1)
	for i, d := range m.Shape {
		if d <= 0 {
			return fmt.Errorf("axis %d has non-positive extent %d", i, d)
		}
		if int64(d) > limit/n {
			return fmt.Errorf("shape %v overflows the payload size", m.Shape)
		}
		n *= int64(d)
	}
	if len(m.Axes) != 0 && len(m.Axes) != len(m.Shape) {
		return fmt.Errorf("%d axis labels for rank %d", len(m.Axes), len(m.Shape))
	}
	return nil
}

// Elements returns the number of elements.
func (m Meta) Elements() int64 {
	n := int64(1)
	for _, d := range m.Shape {
		n *= int64(d)
	}
	return n
}

// Bytes returns the payload size in bytes.
func (m Meta) Bytes() int64 {
	return m.Elements() * int64(m.DType.ItemSize())
}

// Equal reports whether two metadata records describe the same dataset layout.
func (m Meta) Equal(o Meta) bool {
	return slices.Equal(m.Shape, o.Shape) && m.DType == o.DType && slices.Equal(m.Axes, o.Axes)
}

// ShapeOf returns the labelled shape of the dataset.
func (m Meta) ShapeOf() (model.Shape, error) {
	labels := m.Axes
	if len(labels) == 0 {
		labels = make([]string, len(m.Shape))
	}
	return model.NewShape(labels, m.Shape)
}

type header struct {
	Name string `json:"name"`
	Meta
}

// Dataset is one named array inside a container.
type Dataset struct {
	Name   string
	Meta   Meta
	offset int64
}

// File is an open container.
type File struct {
	f        *os.File
	path     string
	writable bool
	datasets map[string]*Dataset
	order    []string
	end      int64
}

// Create creates (or truncates) an empty container at path.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(magic), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write magic %s: %w", path, err)
	}
	return &File{
		f:        f,
		path:     path,
		writable: true,
		datasets: make(map[string]*Dataset),
		end:      int64(len(magic)),
	}, nil
}

// Open opens an existing container.
func Open(path string, writable bool) (*File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	c := &File{
		f:        f,
		path:     path,
		writable: writable,
		datasets: make(map[string]*Dataset),
	}
	if err := c.scan(); err != nil {
		f.Close()
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	return c, nil
}

// OpenOrCreate opens path for writing, creating an empty container if absent.
func OpenOrCreate(path string) (*File, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Create(path)
	}
	return Open(path, true)
}

func (c *File) scan() error {
	info, err := c.f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	buf := make([]byte, len(magic))
	if _, err := c.f.ReadAt(buf, 0); err != nil || string(buf) != magic {
		return fmt.Errorf("%w: bad magic", ErrCorrupt)
	}

	pos := int64(len(magic))
	for pos < size {
		var lenBuf [8]byte
		if _, err := c.f.ReadAt(lenBuf[:], pos); err != nil {
			return fmt.Errorf("%w: truncated header length at %d", ErrCorrupt, pos)
		}
		hdrLen := int64(binary.LittleEndian.Uint64(lenBuf[:]))
		if hdrLen <= 0 || hdrLen > size-pos-8 {
			return fmt.Errorf("%w: header length %d at %d", ErrCorrupt, hdrLen, pos)
		}
		hdrBuf := make([]byte, hdrLen)
		if _, err := c.f.ReadAt(hdrBuf, pos+8); err != nil {
			return fmt.Errorf("%w: read header at %d: %v", ErrCorrupt, pos, err)
		}
		var h header
		if err := json.Unmarshal(hdrBuf, &h); err != nil {
			return fmt.Errorf("%w: decode header at %d: %v", ErrCorrupt, pos, err)
		}
		if err := h.Meta.Validate(); err != nil {
			return fmt.Errorf("%w: dataset %q: %v", ErrCorrupt, h.Name, err)
		}
		ds := &Dataset{Name: h.Name, Meta: h.Meta, offset: pos + 8 + hdrLen}
		if h.Meta.Bytes() > size-ds.offset {
			return fmt.Errorf("%w: dataset %q payload truncated", ErrCorrupt, h.Name)
		}
		pos = ds.offset + h.Meta.Bytes()
		c.datasets[h.Name] = ds
		c.order = append(c.order, h.Name)
	}
	c.end = pos
	return nil
}

// Path returns the file path of the container.
func (c *File) Path() string { return c.path }

// Datasets lists dataset names in creation order.
func (c *File) Datasets() []string {
	return append([]string(nil), c.order...)
}

// Dataset returns the named dataset.
func (c *File) Dataset(name string) (*Dataset, error) {
	ds, ok := c.datasets[name]
	if !ok {
		return nil, fmt.Errorf("%s in %s: %w", name, c.path, ErrNoDataset)
	}
	return ds, nil
}

// CreateDataset appends a zero-filled dataset.
func (c *File) CreateDataset(name string, meta Meta) (*Dataset, error) {
	if !c.writable {
		return nil, ErrReadOnly
	}
	if _, ok := c.datasets[name]; ok {
		return nil, fmt.Errorf("%s in %s: %w", name, c.path, ErrExists)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("create dataset %s: %w", name, err)
	}

	hdr, err := json.Marshal(header{Name: name, Meta: meta})
	if err != nil {
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	block := make([]byte, 8+len(hdr))
	binary.LittleEndian.PutUint64(block, uint64(len(hdr)))
	copy(block[8:], hdr)
	if _, err := c.f.WriteAt(block, c.end); err != nil {
		return nil, fmt.Errorf("write header %s: %w", name, err)
	}

	ds := &Dataset{Name: name, Meta: meta, offset: c.end + int64(len(block))}
	end := ds.offset + meta.Bytes()
	if err := c.f.Truncate(end); err != nil {
		return nil, fmt.Errorf("allocate %s: %w", name, err)
	}
	c.end = end
	c.datasets[name] = ds
	c.order = append(c.order, name)
	return ds, nil
}

// ReadRegion reads the elements of r from the named dataset in C order.
func (c *File) ReadRegion(name string, r model.Region) ([]byte, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return nil, err
	}
	if !r.Within(ds.Meta.Shape) {
		return nil, fmt.Errorf("read %s: region %s outside shape %v", name, r, ds.Meta.Shape)
	}
	item := ds.Meta.DType.ItemSize()
	out := make([]byte, r.Size()*item)
	err = eachRun(ds.Meta.Shape, r, item, func(fileOff int64, bufOff, n int) error {
		_, err := c.f.ReadAt(out[bufOff:bufOff+n], ds.offset+fileOff)
		if err == io.EOF {
			return fmt.Errorf("%w: short payload", ErrCorrupt)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", name, r, err)
	}
	return out, nil
}

// ReadAll reads the whole dataset.
func (c *File) ReadAll(name string) ([]byte, error) {
	ds, err := c.Dataset(name)
	if err != nil {
		return nil, err
	}
	return c.ReadRegion(name, model.FullRegion(ds.Meta.Shape))
}

// WriteRegion writes data (C order, exactly r.Size() elements) into r.
func (c *File) WriteRegion(name string, r model.Region, data []byte) error {
	if !c.writable {
		return ErrReadOnly
	}
	ds, err := c.Dataset(name)
	if err != nil {
		return err
	}
	if !r.Within(ds.Meta.Shape) {
		return fmt.Errorf("write %s: region %s outside shape %v", name, r, ds.Meta.Shape)
	}
	item := ds.Meta.DType.ItemSize()
	if want := r.Size() * item; len(data) != want {
		return fmt.Errorf("write %s: got %d bytes for region %s, want %d", name, len(data), r, want)
	}
	err = eachRun(ds.Meta.Shape, r, item, func(fileOff int64, bufOff, n int) error {
		_, err := c.f.WriteAt(data[bufOff:bufOff+n], ds.offset+fileOff)
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s %s: %w", name, r, err)
	}
	return nil
}

// Sync flushes the container to stable storage.
func (c *File) Sync() error {
	return c.f.Sync()
}

// Close closes the container.
func (c *File) Close() error {
	return c.f.Close()
}

// eachRun calls fn once per contiguous byte run of region r within an array of
// the given shape. Trailing axes that r covers completely are merged into a
// single run.
func eachRun(shape []int, r model.Region, item int, fn func(fileOff int64, bufOff, n int) error) error {
	rank := len(shape)
	strides := make([]int64, rank)
	strides[rank-1] = 1
	for i := rank - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * int64(shape[i+1])
	}

	// Axis k is the outermost axis of a contiguous run: every axis after it is
	// covered in full.
	k := rank - 1
	for k > 0 && r.Start[k] == 0 && r.Stop[k] == shape[k] {
		k--
	}
	runElems := int64(r.Stop[k]-r.Start[k]) * strides[k]
	runBytes := int(runElems) * item

	idx := make([]int, k)
	copy(idx, r.Start[:k])
	bufOff := 0
	for {
		elem := int64(r.Start[k]) * strides[k]
		for i := 0; i < k; i++ {
			elem += int64(idx[i]) * strides[i]
		}
		if err := fn(elem*int64(item), bufOff, runBytes); err != nil {
			return err
		}
		bufOff += runBytes

		axis := k - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < r.Stop[axis] {
				break
			}
			idx[axis] = r.Start[axis]
			axis--
		}
		if axis < 0 {
			return nil
		}
	}
}
