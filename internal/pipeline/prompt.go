package pipeline

import (
	"fmt"
	"strings"

	"github.com/sessionscribe/api/internal/model"
)

// PromptVersion identifies the clinical note instructions below. Bump it
// whenever the wording changes so saved notes can be traced to a template.
const PromptVersion = "psychodynamic-note/v1"

const clinicalNoteInstructions = `As an experienced psychodynamically-oriented therapist, create a rich, insightful, and valuable psychotherapy note based on the following therapy session transcript. Your note should demonstrate deep clinical expertise and provide a comprehensive psychodynamic perspective on the session. Please include the following elements in your note:

1. Session Overview: Briefly summarize the main themes and content of the session.

2. Client Presentation: Describe the client's affect, behavior, and any significant non-verbal cues observed during the session.

3. Psychodynamic Formulation: Provide a detailed analysis of the client's unconscious processes, defense mechanisms, and transference/countertransference dynamics observed in the session. Include relevant theoretical concepts from psychodynamic theory.

4. Key Moments: Highlight 2-3 significant moments or exchanges from the session, using direct quotes where appropriate. Explain their psychodynamic significance.

5. Interpretation and Insight: Offer your professional interpretation of the client's underlying conflicts, patterns, and unconscious motivations based on the session content.

6. Treatment Progress: Discuss how this session relates to the overall treatment goals and any progress or setbacks observed.

7. Future Directions: Suggest potential areas for exploration in future sessions and any specific interventions or techniques you plan to employ.

Please ensure that your note is detailed, nuanced, and reflects a deep understanding of psychodynamic principles. Use clinical language appropriate for a professional psychotherapy note while maintaining clarity.`

// RenderTranscript flattens a diarized transcript into one
// "Speaker <label>: <text>" line per utterance, in service order.
// Labels and text are embedded as-is.
func RenderTranscript(t *model.Transcript) (string, error) {
	if t == nil {
		return "", fmt.Errorf("%w: transcript is missing", ErrInvalidTranscript)
	}
	if t.Utterances == nil {
		return "", fmt.Errorf("%w: transcript %s has no utterances field", ErrInvalidTranscript, t.ID)
	}

	lines := make([]string, len(t.Utterances))
	for i, u := range t.Utterances {
		lines[i] = "Speaker " + u.Speaker + ": " + u.Text
	}
	return strings.Join(lines, "\n"), nil
}

// BuildPrompt appends the rendered transcript to the clinical note instructions.
func BuildPrompt(renderedTranscript string) string {
	return clinicalNoteInstructions + "\n\nTranscript:\n" + renderedTranscript
}

// RenderPrompt is RenderTranscript followed by BuildPrompt.
func RenderPrompt(t *model.Transcript) (string, error) {
	rendered, err := RenderTranscript(t)
	if err != nil {
		return "", err
	}
	return BuildPrompt(rendered), nil
}
