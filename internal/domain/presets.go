package domain

// ResolutionPreset is one of the fixed output sizes offered by the form.
type ResolutionPreset struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Tier   string `json:"tier"`
	Aspect string `json:"aspect"`
}

var ResolutionPresets = []ResolutionPreset{
	{Name: "640×360", Width: 640, Height: 360, Tier: "draft", Aspect: "landscape"},
	{Name: "854×480", Width: 854, Height: 480, Tier: "draft", Aspect: "landscape"},
	{Name: "1280×720", Width: 1280, Height: 720, Tier: "standard", Aspect: "landscape"},
	{Name: "1920×1080", Width: 1920, Height: 1080, Tier: "high", Aspect: "landscape"},

	{Name: "360×640", Width: 360, Height: 640, Tier: "draft", Aspect: "portrait"},
	{Name: "480×832", Width: 480, Height: 832, Tier: "draft", Aspect: "portrait"},
	{Name: "720×1280", Width: 720, Height: 1280, Tier: "standard", Aspect: "portrait"},
	{Name: "1080×1920", Width: 1080, Height: 1920, Tier: "high", Aspect: "portrait"},

	{Name: "512×512", Width: 512, Height: 512, Tier: "draft", Aspect: "square"},
	{Name: "832×832", Width: 832, Height: 832, Tier: "standard", Aspect: "square"},
	{Name: "1024×1024", Width: 1024, Height: 1024, Tier: "high", Aspect: "square"},
}

var LoraModels = []string{
	"wan2.2_i2v_A14b_high_noise_lora_rank64_lightx2v_4step_xxx.safetensors",
	"wan2.2_i2v_A14b_low_noise_lora_rank64_lightx2v_4step_xxx.safetensors",
	"model_1.safetensors",
	"model_2.safetensors",
	"anime_style.safetensors",
	"realistic_motion.safetensors",
	"cinematic_v1.safetensors",
}
