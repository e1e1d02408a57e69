package control

// The variable sets mirror the control channel's parameter dictionary.
// Values are sticky: a key set in one block keeps its value for later
// commands until the peer overwrites it.

type encoderVars struct {
	EncodeSource    string
	SampleRate      string
	ResampleQuality string
	Family          string
	Codec           string
	BitRate         string
	Variability     string
	BitWidth        string
	Mode            string
	MetadataMode    string
	Standard        string
	PreGain         string
	PostGain        string
	Quality         string
	Complexity      string
	FrameSize       string
	Filename        string
	Offset          string
	CustomMeta      string
	Artist          string
	Title           string
	Album           string
}

type streamerVars struct {
	StreamSource string
	ServerType   string
	Host         string
	Port         string
	Mount        string
	Login        string
	Password     string
	UserAgent    string
	DJName       string
	ListenURL    string
	Description  string
	Genre        string
	IRC          string
	AIM          string
	ICQ          string
	TLS          string
	CADirectory  string
	CAFile       string
	ClientCert   string
	MakePublic   string
}

type recorderVars struct {
	RecordSource   string
	RecordFilename string
	RecordFolder   string
	PauseButton    string
}

type universalVars struct {
	Command string
	DevType string
	TabID   string
}

// dict maps wire keys onto the variable set fields.
func (d *Dispatcher) dict() map[string]*string {
	return map[string]*string{
		"encode_source":    &d.ev.EncodeSource,
		"samplerate":       &d.ev.SampleRate,
		"resample_quality": &d.ev.ResampleQuality,
		"family":           &d.ev.Family,
		"codec":            &d.ev.Codec,
		"bitrate":          &d.ev.BitRate,
		"variability":      &d.ev.Variability,
		"bitwidth":         &d.ev.BitWidth,
		"mode":             &d.ev.Mode,
		"metadata_mode":    &d.ev.MetadataMode,
		"standard":         &d.ev.Standard,
		"pregain":          &d.ev.PreGain,
		"postgain":         &d.ev.PostGain,
		"quality":          &d.ev.Quality,
		"complexity":       &d.ev.Complexity,
		"framesize":        &d.ev.FrameSize,
		"filename":         &d.ev.Filename,
		"offset":           &d.ev.Offset,
		"custom_meta":      &d.ev.CustomMeta,
		"artist":           &d.ev.Artist,
		"title":            &d.ev.Title,
		"album":            &d.ev.Album,

		"stream_source": &d.sv.StreamSource,
		"server_type":   &d.sv.ServerType,
		"host":          &d.sv.Host,
		"port":          &d.sv.Port,
		"mount":         &d.sv.Mount,
		"login":         &d.sv.Login,
		"password":      &d.sv.Password,
		"useragent":     &d.sv.UserAgent,
		"dj_name":       &d.sv.DJName,
		"listen_url":    &d.sv.ListenURL,
		"description":   &d.sv.Description,
		"genre":         &d.sv.Genre,
		"irc":           &d.sv.IRC,
		"aim":           &d.sv.AIM,
		"icq":           &d.sv.ICQ,
		"tls":           &d.sv.TLS,
		"ca_directory":  &d.sv.CADirectory,
		"ca_file":       &d.sv.CAFile,
		"client_cert":   &d.sv.ClientCert,
		"make_public":   &d.sv.MakePublic,

		"record_source":   &d.rv.RecordSource,
		"record_filename": &d.rv.RecordFilename,
		"record_folder":   &d.rv.RecordFolder,
		"pause_button":    &d.rv.PauseButton,

		"command":  &d.uv.Command,
		"dev_type": &d.uv.DevType,
		"tab_id":   &d.uv.TabID,
	}
}
