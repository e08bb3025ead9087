package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Server  Server  `yaml:"server" json:"server"` // configuration of the public REST server
	Name    string  `yaml:"name" json:"name" env:"APP_NAME" env-default:"caseflow"`
	Tracing Tracing `yaml:"tracing" json:"tracing"`
	Engine  Engine  `yaml:"engine" json:"engine"`
}

type Server struct {
	Context string `yaml:"context" json:"context" env:"REST_API_CONTEXT" env-default:"/"`
	Addr    string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" env:"TRACING_ENABLED"`
	Endpoint string `yaml:"endpoint" json:"endpoint" env:"TRACING_ENDPOINT"`
	Name     string `yaml:"name" json:"name" env:"TRACING_NAME"`
	// TransferHeaders are copied from incoming requests into span attributes
	// and the request context.
	TransferHeaders []string `yaml:"transferHeaders" json:"transferHeaders" env:"TRACING_TRANSFER_HEADERS"`
}

type Engine struct {
	// Strict makes firing contract violations panic instead of being
	// rejected and logged. Development setting.
	Strict bool `yaml:"strict" json:"strict" env:"ENGINE_STRICT"`
	// DirectoryFile points to a YAML file with the participant directory.
	// Empty disables resource allocation; work items are routed manually.
	DirectoryFile string `yaml:"directoryFile" json:"directoryFile" env:"ENGINE_DIRECTORY_FILE"`
	ScriptPoolMin int    `yaml:"scriptPoolMin" json:"scriptPoolMin" env:"ENGINE_SCRIPT_POOL_MIN" env-default:"2"`
	ScriptPoolMax int    `yaml:"scriptPoolMax" json:"scriptPoolMax" env:"ENGINE_SCRIPT_POOL_MAX" env-default:"10"`
}

func (c Config) defaults() Config {
	if c.Tracing.Name == "" {
		c.Tracing.Name = c.Name
	}
	return c
}

func InitConfig() Config {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c.defaults()
}
