package envelope

// Payloads of the structured UI topics.

// ElementText sets the text of an element (set_text, set_button_text).
type ElementText struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// ImageSource sets the src of an image element (set_image_src).
type ImageSource struct {
	ID  string `json:"id"`
	Src string `json:"src"`
}

// ElementRef names an element (get_input_data).
type ElementRef struct {
	ID string `json:"id"`
}
