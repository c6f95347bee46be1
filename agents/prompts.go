package agents

import (
	"fmt"
	"strings"
)

// tag wraps value in an XML-style element.
func tag(name, value string) string {
	return fmt.Sprintf("<%s>%s</%s>", name, value, name)
}

// block wraps value in an element with the value on its own lines.
func block(name, value string) string {
	return fmt.Sprintf("<%s>\n%s\n</%s>", name, value, name)
}

func lines(parts ...string) string {
	return strings.Join(parts, "\n")
}

const titleSystem = "You are an expert book title creator. Generate a compelling, intriguing title that captures the essence of a novel concept."

const charactersSystem = "Create detailed character profiles for a novel in JSON format. Include name, age, physical appearance, personality traits, background, motivations, fears, desires, and relationships with other characters."

const plotSystem = `Structure your response as a JSON object with chapter titles and plot points. Follow the dramatic arc, ensuring character development and proper pacing. Format example: {"Chapter 1: Title": "Plot description", "Chapter 2: Title": {"Scene 1": "Scene description", "Scene 2": "Scene description"}}`

const structureSystem = `You are an expert novel structure designer. Create a compelling novel structure in JSON format following classical dramaturgy:

1. EXPOSITION: Introduce characters, setting, and initial situation (10-15% of the novel)
2. INCITING INCIDENT: The event that sets the story in motion
3. RISING ACTION: Escalating conflicts and complications (50-60% of the novel)
4. MIDPOINT: A major revelation or shift in perspective
5. COMPLICATIONS: Stakes rise, challenges intensify
6. CLIMAX: The highest point of tension where the main conflict comes to a head (75-80% point)
7. RESOLUTION: Aftermath and tying up of loose ends (final 10-15%)

Format your response as a nested JSON structure with chapters and scenes. Keys are chapter or scene titles; values are either a description string or an object of scenes.

Format example:
{
  "Chapter 1: Title": "Description focusing on exposition and character introduction",
  "Chapter 2: Title": {
    "Scene 1: Setting": "Scene description with character dynamics",
    "Scene 2: Conflict": "Scene description with emerging tensions"
  }
}`

const arcsSystem = `You are a character development specialist. Track the emotional and psychological evolution of characters throughout a novel, ensuring consistent character arcs in JSON format.

For each character, track:
1. Current emotional state
2. Relationships with other characters
3. Knowledge gained
4. Progress toward goals
5. Character growth or change

Return the updated character profiles in JSON format as {"characters": [{"name": ..., "emotional_state": ..., "relationships": ..., "knowledge": ..., "goal_progress": ..., "growth": ...}]}.`

const sectionSystem = "You are an expert fiction writer. Generate compelling narrative content for the section provided. Follow the tone, character behaviors, and plot context. Focus on engaging dialogue, vivid descriptions, and natural character development."

const novelSectionSystem = `You are an expert fiction writer. Write compelling, emotionally resonant narrative content that:
1. Shows rather than tells when describing characters and settings
2. Uses natural-sounding dialogue appropriate to each character
3. Balances description, dialogue, and action
4. Creates appropriate pacing for the scene's emotional tone
5. Maintains consistent character voices and behaviors
6. Advances both plot and character development

Only output the narrative content, without additional explanations.`
