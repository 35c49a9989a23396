package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andys/queryload/db"
	"github.com/andys/queryload/page"
	"github.com/andys/queryload/record"
	"github.com/andys/queryload/schema"
)

// Output types
const (
	OutputArrow = "arrow"
	OutputJSONL = "jsonl"
	OutputTable = "table"
)

// Stdout is the output path that writes JSON Lines to standard output
const Stdout = "-"

// Config holds the job configuration
type Config struct {
	URL        string         `yaml:"url"`
	User       string         `yaml:"user"`
	Password   string         `yaml:"password"`
	StagingDir string         `yaml:"staging_dir"`
	Options    map[string]any `yaml:"options"`

	Query   string `yaml:"query"`
	Tasks   []Task `yaml:"tasks"`
	Output  Output `yaml:"output"`
	Workers int    `yaml:"workers"`

	Columns         []Column `yaml:"columns"`
	DefaultTimezone string   `yaml:"default_timezone"`
	FieldErrors     string   `yaml:"field_errors"`
	PageSize        int      `yaml:"page_size"`

	ConfigFile string `yaml:"-"`
	Debug      bool   `yaml:"-"`
}

// Task is one query of the job. Output and Table override the job-wide
// output destination.
type Task struct {
	Name   string `yaml:"name"`
	Query  string `yaml:"query"`
	Output string `yaml:"output"`
	Table  string `yaml:"table"`
}

// Output describes where records go
type Output struct {
	Type  string `yaml:"type"`
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
	// URL of the destination database for table output; defaults to the
	// source URL
	URL string `yaml:"url"`
}

// Column is a declared output column
type Column struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Format   string `yaml:"format"`
	Timezone string `yaml:"timezone"`
}

// LoadConfig reads and parses the configuration file. Values already set
// on cfg are overwritten by those present in the file.
func LoadConfig(cfg *Config, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	defer file.Close()

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error parsing config file %s: %w", filename, err)
	}
	cfg.ConfigFile = filename
	return nil
}

// Validate checks the configuration before any connection is opened
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.Query != "" && len(c.Tasks) > 0 {
		return errors.New("query and tasks are mutually exclusive")
	}
	if c.Query == "" && len(c.Tasks) == 0 {
		return errors.New("a query or at least one task is required")
	}
	if c.PageSize < 0 {
		return fmt.Errorf("page_size must not be negative, got %d", c.PageSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Schema(); err != nil {
		return err
	}

	switch c.Output.Type {
	case OutputArrow, OutputJSONL, OutputTable:
	case "":
		return errors.New("output.type is required")
	default:
		return fmt.Errorf("unknown output type %q", c.Output.Type)
	}

	paths := make(map[string]string)
	for _, task := range c.TaskList() {
		if strings.TrimSpace(task.Query) == "" {
			return fmt.Errorf("task %s: query is empty", task.Name)
		}
		if c.Output.Type == OutputTable {
			if task.Table == "" {
				return fmt.Errorf("task %s: output table is required", task.Name)
			}
			continue
		}
		if task.Output == "" {
			return fmt.Errorf("task %s: output path is required", task.Name)
		}
		if task.Output == Stdout && c.Output.Type != OutputJSONL {
			return fmt.Errorf("task %s: only jsonl output can be written to stdout", task.Name)
		}
		if other, ok := paths[task.Output]; ok {
			return fmt.Errorf("tasks %s and %s write to the same path %s", other, task.Name, task.Output)
		}
		paths[task.Output] = task.Name
	}
	return nil
}

// Schema converts the declared columns
func (c *Config) Schema() (schema.Schema, error) {
	s := make(schema.Schema, 0, len(c.Columns))
	for _, col := range c.Columns {
		typ, err := schema.ParseType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		s = append(s, schema.Column{
			Name:     col.Name,
			Type:     typ,
			Format:   col.Format,
			Timezone: col.Timezone,
		})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Policy returns the field error policy
func (c *Config) Policy() (record.Policy, error) {
	return record.ParsePolicy(c.FieldErrors)
}

// Size returns the page size, falling back to page.DefaultSize
func (c *Config) Size() int {
	if c.PageSize == 0 {
		return page.DefaultSize
	}
	return c.PageSize
}

// TaskList returns the tasks with the job-wide output applied. A single
// query becomes a task named "query".
func (c *Config) TaskList() []Task {
	tasks := c.Tasks
	if c.Query != "" {
		tasks = []Task{{Name: "query", Query: c.Query}}
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		if t.Name == "" {
			t.Name = fmt.Sprintf("task-%d", i+1)
		}
		if t.Output == "" {
			t.Output = c.Output.Path
		}
		if t.Table == "" {
			t.Table = c.Output.Table
		}
		out[i] = t
	}
	return out
}

// ConnOptions returns credentials and driver options. staging_dir is
// passed as an option of the same name.
func (c *Config) ConnOptions() db.Options {
	params := make(map[string]string, len(c.Options)+1)
	for k, v := range c.Options {
		params[k] = fmt.Sprint(v)
	}
	if c.StagingDir != "" {
		params["staging_dir"] = c.StagingDir
	}
	return db.Options{
		User:     c.User,
		Password: c.Password,
		Params:   params,
	}
}
