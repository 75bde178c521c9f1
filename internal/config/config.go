package config

import (
	"fmt"
	"os"

	"github.com/go-yaml/yaml"

	"github.com/cloudillo/federation"
)

type Config struct {
	Node   Node   `yaml:"node"`
	Server Server `yaml:"server"`
}

type Node struct {
	IDTag      string `yaml:"idTag"`
	PrivateKey string `yaml:"privatekey"`
	UserAgent  string `yaml:"userAgent"`

	// ---
	KeyID     string
	PublicKey string
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	BlobPath      string `yaml:"blobPath"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if !federation.IsIDTag(config.Node.IDTag) {
		return Config{}, fmt.Errorf("invalid node idTag: %q", config.Node.IDTag)
	}

	pub, err := federation.PrivKeyToPubKey(config.Node.PrivateKey)
	if err != nil {
		return Config{}, err
	}
	keyID, err := federation.PubKeyToKeyID(pub)
	if err != nil {
		return Config{}, err
	}
	config.Node.PublicKey = pub
	config.Node.KeyID = keyID

	if config.Node.UserAgent == "" {
		config.Node.UserAgent = "cloudillo-federation/" + config.Node.IDTag
	}
	if config.Server.Listen == "" {
		config.Server.Listen = ":8000"
	}

	return config, nil
}
