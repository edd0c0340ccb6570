package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90 * time.Second
	}
	if cfg.Data.Root == "" {
		cfg.Data.Root = "./data"
	}
	if cfg.Data.StaticDir == "" {
		cfg.Data.StaticDir = "./src"
	}
	if cfg.Data.ScriptFiles == nil {
		cfg.Data.ScriptFiles = []string{"script.xlsx", "script.csv"}
	}
	if cfg.Data.PersonaFiles == nil {
		cfg.Data.PersonaFiles = []string{"persona.xlsx", "persona.csv"}
	}
	if cfg.Data.LoadConcurrency == 0 {
		cfg.Data.LoadConcurrency = 4
	}
	if cfg.Cache.Format == "" {
		cfg.Cache.Format = "binary"
	}
	if cfg.Cache.File == "" {
		if cfg.Cache.Format == "sqlite" {
			cfg.Cache.File = "script.db"
		} else {
			cfg.Cache.File = "script.vec"
		}
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "jhgan/ko-sroberta-multitask"
	}
	if cfg.Embedding.OutputName == "" {
		cfg.Embedding.OutputName = "sentence_embedding"
	}
	// ko-sroberta produces 768-dimensional vectors.
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 128
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "gpt-4o-mini"
	}
	if cfg.Generation.Temperature == nil {
		t := DefaultTemperature
		cfg.Generation.Temperature = &t
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Generation.RetryDelay == 0 {
		cfg.Generation.RetryDelay = time.Second
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Movies.Titles == nil {
		cfg.Movies.Titles = map[string]string{
			"extreme_job":       "극한직업",
			"DarkFigureofCrime": "암수살인",
			"parasite":          "기생충",
			"1987":              "1987",
			"dogani":            "도가니",
			"theking":           "더킹",
		}
	}
	if cfg.Movies.ImageOverrides == nil {
		cfg.Movies.ImageOverrides = map[string]string{
			"고반장": "goban.jpg",
			"장형사": "jang.jpg",
		}
	}
}
