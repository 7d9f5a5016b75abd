// Package torchfile reads the class references stored in PyTorch checkpoints
// without executing them.
package torchfile

import (
	"archive/zip"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/nlpodyssey/gopickle/pickle"

	"model-uploader/internal/core/domain"
)

var zipMagic = []byte("PK\x03\x04")

const protoOpcode = 0x80

// A legacy checkpoint is a run of pickles (magic number, protocol, system
// info, object graph, storage keys) followed by raw tensor bytes.
const legacyPickleCount = 5

// DefaultKnownBlocks are the model classes a stock V8-era runtime can resolve.
var DefaultKnownBlocks = []string{
	"Conv", "Conv2", "DWConv", "LightConv", "GhostConv", "RepConv", "ConvTranspose",
	"Focus", "Concat", "Bottleneck", "BottleneckCSP", "C1", "C2", "C2f", "C3", "C3x",
	"C3TR", "C3Ghost", "GhostBottleneck", "SPP", "SPPF", "DFL", "Proto",
	"Detect", "Segment", "Pose", "Classify", "OBB", "RTDETRDecoder",
	"DetectionModel", "SegmentationModel", "PoseModel", "ClassificationModel", "OBBModel",
	"Model", "BaseModel",
}

// DefaultStrictPrefixes are the module paths whose classes must be known.
var DefaultStrictPrefixes = []string{"ultralytics.nn", "models.common", "models.yolo"}

type Loader struct {
	strict   bool
	known    map[string]bool
	prefixes []string
}

type Option func(*Loader)

// WithStrictClasses makes Load fail with *domain.UnresolvedClassError for any
// class under prefixes that is not in known, the way an older runtime fails
// to unpickle a newer architecture.
func WithStrictClasses(known, prefixes []string) Option {
	return func(l *Loader) {
		l.strict = true
		l.known = make(map[string]bool, len(known))
		for _, k := range known {
			l.known[k] = true
		}
		l.prefixes = prefixes
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns every class the checkpoint at path refers to, in first-seen
// order.
func (l *Loader) Load(p string) (*domain.ModuleGraph, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, err := br.Peek(len(zipMagic))
	if err != nil && len(head) == 0 {
		return nil, domain.ErrUnsupportedContainer
	}

	c := l.newCollector()
	switch {
	case bytes.Equal(head, zipMagic):
		err = c.readZip(f)
	case head[0] == protoOpcode:
		err = c.readLegacy(br)
	default:
		return nil, domain.ErrUnsupportedContainer
	}
	if err != nil {
		return nil, err
	}
	return &domain.ModuleGraph{Classes: c.classes}, nil
}

// collector unpickles object graphs with every class replaced by a stub, and
// records the classes as the unpickler asks for them.
type collector struct {
	loader     *Loader
	classes    []domain.ClassRef
	seen       map[domain.ClassRef]bool
	unresolved *domain.UnresolvedClassError
}

func (l *Loader) newCollector() *collector {
	return &collector{loader: l, seen: make(map[domain.ClassRef]bool)}
}

func (c *collector) findClass(module, name string) (interface{}, error) {
	ref := domain.ClassRef{Module: module, Name: name}
	if !c.seen[ref] {
		c.seen[ref] = true
		c.classes = append(c.classes, ref)
	}
	if c.loader.rejects(ref) {
		c.unresolved = &domain.UnresolvedClassError{Module: module, Name: name}
		return nil, c.unresolved
	}
	return &stubClass{ref: ref}, nil
}

// persistentLoad stands in for tensor storages; their bytes are never read.
func (c *collector) persistentLoad(pid interface{}) (interface{}, error) {
	return pid, nil
}

func (c *collector) unpickle(r io.Reader) error {
	u := pickle.NewUnpickler(r)
	u.FindClass = c.findClass
	u.PersistentLoad = c.persistentLoad
	if _, err := u.Load(); err != nil {
		if c.unresolved != nil {
			return c.unresolved
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformedArchive, err)
	}
	return nil
}

func (c *collector) readZip(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrArtifactUnreadable, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedArchive, err)
	}

	for _, entry := range zr.File {
		if path.Base(entry.Name) != "data.pkl" {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedArchive, err)
		}
		defer rc.Close()
		return c.unpickle(bufio.NewReader(rc))
	}
	return fmt.Errorf("%w: no data.pkl entry", domain.ErrMalformedArchive)
}

// readLegacy shares br between the unpicklers so that each one starts where
// the previous pickle stopped.
func (c *collector) readLegacy(br *bufio.Reader) error {
	for i := 0; i < legacyPickleCount; i++ {
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			break
		}
		if err := c.unpickle(br); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) rejects(ref domain.ClassRef) bool {
	if !l.strict || l.known[ref.Name] {
		return false
	}
	for _, prefix := range l.prefixes {
		if ref.Module == prefix || strings.HasPrefix(ref.Module, prefix+".") {
			return true
		}
	}
	return false
}
