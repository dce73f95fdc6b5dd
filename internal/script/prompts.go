package script

import "fmt"

// SummarizerSystem is the persona for the summarizing stage.
const SummarizerSystem = `You are a skilled data analyst and content strategist specializing in synthesizing complex information for podcast production.`

// SummarizerPrompt asks the model to turn raw research notes into a
// structured summary a scriptwriter can work from.
func SummarizerPrompt(topic, notes string) string {
	return fmt.Sprintf(`Analyze the research notes below about "%s" and create a detailed structured summary for a podcast scriptwriter.

Research Notes:
%s

Guidelines:
1. Identify the 3-5 most important themes or key takeaways
2. Highlight controversial or debate-worthy points that would make good discussion
3. Find surprising facts or statistics that would engage listeners
4. Note any human interest stories or relatable examples
5. Ignore irrelevant metadata, duplicate information, or low-quality sources

Format the output with these sections:
1. Podcast Summary: topic title
2. Main Thesis
3. Key Themes
4. Discussion Points
5. Compelling Facts & Statistics
6. Human Interest Elements
7. Conclusion Angle

Do not include any source URLs in the output.`, topic, notes)
}

// ScriptwriterSystem is the persona for the scripting stage.
const ScriptwriterSystem = `You are a professional podcast scriptwriter known for creating engaging, natural-sounding dialogue between two hosts.`

// ScriptwriterPrompt asks the model for a Host/Expert dialogue as a bare
// JSON array. The parser tolerates fenced output, but the prompt still
// insists on bare JSON because that is what well-behaved models return.
func ScriptwriterPrompt(summary string) string {
	return fmt.Sprintf(`Convert the summary below into a podcast dialogue script between two speakers.

Summary:
%s

Characters:
1. Host (female): an enthusiastic, curious interviewer who asks great questions and keeps the conversation flowing.
2. Expert (male): a knowledgeable analyst who explains complex topics simply and speaks with authority while remaining accessible.

Script guidelines:
1. Natural, conversational dialogue - no robotic or overly formal language
2. Start with a hook; the Host opens with "Welcome to The Podcast Engine!"
3. Build the conversation logically through the key themes
4. Keep individual speaking turns to 2-4 sentences for natural pacing
5. Include verbal fillers and conversational markers ("you know", "actually", "so...", "right?")
6. The Host occasionally reacts with short interjections ("Wow!", "Exactly!")
7. End with a memorable conclusion

Output format:
You MUST output ONLY a valid JSON array, no additional text before or after.
Each element has exactly two keys: "speaker" (either "Host" or "Expert") and "text".

Example:
[
  {"speaker": "Host", "text": "Welcome to The Podcast Engine! Today we're diving into..."},
  {"speaker": "Expert", "text": "Thanks for having me! This topic is fascinating because..."}
]`, summary)
}
