package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// Catalog file suffixes.
const (
	masterSuffix   = ".master.yaml"
	roadmapSuffix  = ".roadmap.yaml"
	quizBankSuffix = ".quizzes.yaml"
)

type roadmapDoc struct {
	Roadmap   `yaml:",inline"`
	Published bool `yaml:"published"`
}

type quizBankDoc struct {
	Roadmap string `yaml:"roadmap"`
	Quizzes []Quiz `yaml:"quizzes"`
}

// loader collects catalog documents before they are added to a Store.
type loader struct {
	schemas  *documentSchemas
	masters  []MasterRoadmap
	roadmaps []roadmapDoc
	banks    []quizBankDoc
}

// Load reads every catalog document under rootDir into a new Store.
// Invalid documents are skipped with a warning. Roadmaps asking to be
// published are published only if their quiz bank is large enough.
func Load(rootDir string, defaults Defaults) (*Store, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	l := &loader{schemas: schemas}

	if err := l.walk(rootDir); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	store := NewStore(defaults)
	l.apply(store)

	slog.Info("catalog loaded",
		"masters", len(store.AllMasters()),
		"roadmaps", len(store.AllRoadmaps()),
	)
	return store, nil
}

func (l *loader) walk(rootDir string) error {
	var paths []string
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)

	for _, path := range paths {
		switch {
		case strings.HasSuffix(path, masterSuffix):
			var m MasterRoadmap
			if l.decode(path, l.schemas.master, &m) {
				l.masters = append(l.masters, m)
			}
		case strings.HasSuffix(path, roadmapSuffix):
			var r roadmapDoc
			if l.decode(path, l.schemas.roadmap, &r) {
				l.roadmaps = append(l.roadmaps, r)
			}
		case strings.HasSuffix(path, quizBankSuffix):
			var b quizBankDoc
			if l.decode(path, l.schemas.quizBank, &b) {
				l.banks = append(l.banks, b)
			}
		}
	}
	return nil
}

// decode validates the file against schema and decodes it into out.
// It returns false when the file was skipped.
func (l *loader) decode(path string, schema *gojsonschema.Schema, out any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("skipping unreadable catalog file", "path", path, "error", err)
		return false
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
		return false
	}
	if err := validateDocument(schema, doc); err != nil {
		slog.Warn("skipping catalog file failing schema", "path", path, "error", err)
		return false
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		slog.Warn("skipping invalid catalog YAML", "path", path, "error", err)
		return false
	}
	return true
}

func (l *loader) apply(store *Store) {
	for _, r := range l.roadmaps {
		if err := store.AddRoadmap(r.Roadmap); err != nil {
			slog.Warn("skipping roadmap", "slug", r.Slug, "error", err)
		}
	}

	for _, m := range l.masters {
		if err := store.AddMaster(m); err != nil {
			slog.Warn("skipping master roadmap", "id", m.ID, "error", err)
			continue
		}
		for _, y := range m.Years {
			refs := append(append([]string{}, y.Roadmaps...), y.ElectiveRoadmaps()...)
			if y.TestOutRoadmap != "" {
				refs = append(refs, y.TestOutRoadmap)
			}
			for _, ref := range refs {
				if _, ok := store.Roadmap(ref); !ok {
					slog.Warn("master roadmap references unknown roadmap",
						"master_id", m.ID,
						"year", y.Number,
						"roadmap", ref,
					)
				}
			}
		}
	}

	for _, b := range l.banks {
		for _, q := range b.Quizzes {
			q.RoadmapID = b.Roadmap
			if err := store.AddQuiz(q); err != nil {
				slog.Warn("skipping quiz", "quiz_id", q.ID, "roadmap", b.Roadmap, "error", err)
			}
		}
	}

	for _, r := range l.roadmaps {
		if !r.Published {
			continue
		}
		if err := store.Publish(r.Slug); err != nil {
			slog.Warn("roadmap left unpublished", "slug", r.Slug, "error", err)
		}
	}
}
