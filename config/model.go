package config

// Root is the main yaml config object
type Root struct {
	HTTP    *HTTPGlobal    `yaml:"http"`
	Torrent *TorrentGlobal `yaml:"torrent"`
	Stream  *StreamGlobal  `yaml:"stream"`
	Log     *Log           `yaml:"log"`
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	MaxBackups int    `yaml:"max_backups"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	Path       string `yaml:"path"`
}

type TorrentGlobal struct {
	DownloadsFolder string `yaml:"downloads_folder,omitempty"`
	MetadataFolder  string `yaml:"metadata_folder,omitempty"`
	DisableIPv6     bool   `yaml:"disable_ipv6,omitempty"`
	DisableTCP      bool   `yaml:"disable_tcp,omitempty"`
	DisableUTP      bool   `yaml:"disable_utp,omitempty"`
	IP              string `yaml:"ip,omitempty"`
	ListenPort      int    `yaml:"listen_port,omitempty"`

	DownloadLimitMbit float64 `yaml:"download_limit_mbit,omitempty"`
	UploadLimitMbit   float64 `yaml:"upload_limit_mbit,omitempty"`

	// Metered starts the engine with every torrent paused until the
	// /network/metered switch is flipped off.
	Metered bool `yaml:"metered,omitempty"`

	// MaxIdleHours is the age after which an untouched torrent is evicted.
	MaxIdleHours int `yaml:"max_idle_hours,omitempty"`

	// ExtraTrackers are appended after the built-in announce list.
	ExtraTrackers []string `yaml:"extra_trackers,omitempty"`
}

type StreamGlobal struct {
	// PieceTimeout bounds a single wait for a missing piece, in seconds.
	PieceTimeout int `yaml:"piece_timeout,omitempty"`
	// MetadataTimeout bounds the proxy-side wait for torrent metadata, in seconds.
	MetadataTimeout int `yaml:"metadata_timeout,omitempty"`
}

type HTTPGlobal struct {
	Port int    `yaml:"port"`
	IP   string `yaml:"ip"`
}

const defaultDataFolder = "./stremd-data"

func AddDefaults(r *Root) *Root {
	if r.Torrent == nil {
		r.Torrent = &TorrentGlobal{}
	}

	if r.Torrent.DownloadsFolder == "" {
		r.Torrent.DownloadsFolder = defaultDataFolder + "/downloads"
	}

	if r.Torrent.MetadataFolder == "" {
		r.Torrent.MetadataFolder = defaultDataFolder + "/metadata"
	}

	if r.Torrent.MaxIdleHours == 0 {
		r.Torrent.MaxIdleHours = 72
	}

	if r.Stream == nil {
		r.Stream = &StreamGlobal{}
	}

	if r.Stream.PieceTimeout == 0 {
		r.Stream.PieceTimeout = 60
	}

	if r.Stream.MetadataTimeout == 0 {
		r.Stream.MetadataTimeout = 60
	}

	if r.HTTP == nil {
		r.HTTP = &HTTPGlobal{}
	}

	if r.HTTP.IP == "" {
		r.HTTP.IP = "127.0.0.1"
	}

	if r.HTTP.Port == 0 {
		r.HTTP.Port = 8888
	}

	if r.Log == nil {
		r.Log = &Log{}
	}

	if r.Log.Path == "" {
		r.Log.Path = defaultDataFolder + "/log"
	}

	return r
}
