package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoaderConfig configures how configuration is loaded
type LoaderConfig struct {
	ConfigFile      string
	EnvironmentFile string
	ServiceName     string
}

// ConfigLoader fills a configuration struct from, in increasing precedence:
// `default:` struct tags, a YAML file, an environment file and the process
// environment.
type ConfigLoader struct {
	config LoaderConfig
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader(cfg LoaderConfig) *ConfigLoader {
	return &ConfigLoader{config: cfg}
}

var durationType = reflect.TypeOf(time.Duration(0))

// Load loads configuration into the provided struct pointer
func (l *ConfigLoader) Load(target interface{}) error {
	if err := l.setDefaults(target); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}

	if l.config.ConfigFile != "" {
		if err := l.loadFromYAML(target, l.config.ConfigFile); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// List entries only exist once the YAML has been decoded.
	if err := l.fillListDefaults(reflect.ValueOf(target)); err != nil {
		return fmt.Errorf("failed to set list defaults: %w", err)
	}

	if l.config.EnvironmentFile != "" {
		if err := l.loadEnvironmentFile(l.config.EnvironmentFile); err != nil {
			return fmt.Errorf("failed to load environment file: %w", err)
		}
	}

	if err := l.loadFromEnv(target); err != nil {
		return fmt.Errorf("failed to load from environment: %w", err)
	}

	return nil
}

func (l *ConfigLoader) setDefaults(target interface{}) error {
	return l.setDefaultsRecursive(reflect.ValueOf(target), false)
}

// setDefaultsRecursive applies `default:` tags. With onlyZero set, fields that
// already hold a value are left alone.
func (l *ConfigLoader) setDefaultsRecursive(v reflect.Value, onlyZero bool) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := l.setDefaultsRecursive(field, onlyZero); err != nil {
				return err
			}
			continue
		}

		defaultValue := fieldType.Tag.Get("default")
		if defaultValue == "" {
			continue
		}
		if onlyZero && !field.IsZero() {
			continue
		}
		if err := setFieldValue(field, defaultValue); err != nil {
			return fmt.Errorf("failed to set default for field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// fillListDefaults walks slices of structs and applies defaults to the zero
// fields of every element.
func (l *ConfigLoader) fillListDefaults(v reflect.Value) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Field(i).CanSet() {
				continue
			}
			if err := l.fillListDefaults(v.Field(i)); err != nil {
				return err
			}
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Struct {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := l.setDefaultsRecursive(v.Index(i), true); err != nil {
				return err
			}
		}
	}

	return nil
}

func (l *ConfigLoader) loadFromYAML(target interface{}, filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return nil
}

// loadEnvironmentFile exports the variables of a dotenv file. Variables that
// are already present in the process environment win.
func (l *ConfigLoader) loadEnvironmentFile(filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	values, err := godotenv.Read(filename)
	if err != nil {
		return fmt.Errorf("failed to parse environment file %s: %w", filename, err)
	}

	for key, value := range values {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to export %s: %w", key, err)
		}
	}

	return nil
}

func (l *ConfigLoader) loadFromEnv(target interface{}) error {
	return l.loadFromEnvRecursive(reflect.ValueOf(target), "")
}

func (l *ConfigLoader) loadFromEnvRecursive(v reflect.Value, prefix string) error {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.Struct:
			nestedPrefix := strings.ToUpper(fieldType.Name)
			if prefix != "" {
				nestedPrefix = prefix + "_" + nestedPrefix
			}
			if err := l.loadFromEnvRecursive(field, nestedPrefix); err != nil {
				return err
			}
			continue
		case reflect.Slice, reflect.Map:
			// Lists only come from the YAML file.
			continue
		}

		envName := fieldType.Tag.Get("env")
		if envName == "" {
			envName = strings.ToUpper(fieldType.Name)
			if prefix != "" {
				envName = prefix + "_" + envName
			}
		}

		if l.config.ServiceName != "" {
			serviceSpecificName := strings.ToUpper(l.config.ServiceName) + "_" + envName
			if value, exists := os.LookupEnv(serviceSpecificName); exists {
				if err := setFieldValue(field, value); err != nil {
					return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, serviceSpecificName, err)
				}
				continue
			}
		}

		if value, exists := os.LookupEnv(envName); exists {
			if err := setFieldValue(field, value); err != nil {
				return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envName, err)
			}
		}
	}

	return nil
}

// setFieldValue sets a scalar field from its string form
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			field.SetBool(true)
		case "false", "0", "no", "off":
			field.SetBool(false)
		default:
			return fmt.Errorf("invalid boolean value: %s", value)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
			return nil
		}
		intVal, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %s", value)
		}
		field.SetInt(intVal)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		uintVal, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer value: %s", value)
		}
		field.SetUint(uintVal)
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(floatVal)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}

	return nil
}

// FindConfigFile searches for <serviceName>.yaml in the standard locations:
// the working directory, ./config, ./configs, /etc/<serviceName> and
// $HOME/.<serviceName>.
func FindConfigFile(serviceName string) string {
	configName := serviceName + ".yaml"

	searchPaths := []string{
		configName,
		filepath.Join("config", configName),
		filepath.Join("configs", configName),
		filepath.Join("/etc", serviceName, configName),
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(homeDir, "."+serviceName, configName))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// FindEnvironmentFile searches for an environment file
func FindEnvironmentFile(serviceName string) string {
	envName := serviceName + ".env"

	searchPaths := []string{
		".env",
		envName,
		filepath.Join("config", ".env"),
		filepath.Join("config", envName),
		filepath.Join("configs", ".env"),
		filepath.Join("configs", envName),
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
