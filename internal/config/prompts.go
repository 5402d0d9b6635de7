package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Prompt is a system prompt. In YAML it is either a string or a list of
// lines joined with "\n".
type Prompt string

func (p *Prompt) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag == "!!null" {
			*p = ""
			return nil
		}
		*p = Prompt(n.Value)
		return nil
	case yaml.SequenceNode:
		lines := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				continue
			}
			lines = append(lines, item.Value)
		}
		*p = Prompt(strings.Join(lines, "\n"))
		return nil
	default:
		return fmt.Errorf("line %d: prompt must be a string or a list of strings", n.Line)
	}
}

const DefaultSystemPrompt = `You are a Minecraft Architect.
Target: Generate a structure based on user prompt.
Output Format: JSON ONLY. No markdown, no comments.
Schema:
{
  "palette": {"KEY": "minecraft:block_id"},
  "structure": [
    {"actions": [{"type": "fill", "block": "KEY", "from": [x,y,z], "to": [x,y,z]}]}
  ]
}
Actions:
1. "fill": Fill a solid cuboid.
2. "frame": Create hollow walls/box (faces only) for the cuboid region.
3. "set": Place blocks at specific list of coordinates "at": [[x,y,z],...].
Optional per-action field: "facing": "north|south|east|west|up|down" to set block facing when supported.
Rules:
- Coordinates are relative to 0,0,0.
- Use standard Minecraft Java Edition block IDs (e.g., minecraft:oak_log).
- Optimize: Use "fill" and "frame" for large areas to save tokens.
`

const cozyCabin = `

Style preset: Cozy wooden cabin. Keep footprint <= 12x12, height <= 12. Palette: spruce_log frame, oak_planks walls, spruce_stairs + spruce_slab roof, glass_pane windows, cobblestone/chiseled_stone_bricks chimney, spruce_door. Roof pitched (slope ~3:1), 1-block foundation, windows 2x2 with flower_pots, lanterns at entry. Interior must include: bed, crafting_table, furnace, chest. Add campfire on chimney for smoke.`

const modernVilla = `

Style preset: Modern villa. Keep footprint <= 16x20, height <= 14. Palette: white_concrete walls, gray_concrete accents, black_stained_glass panes, quartz_stairs/slabs overhangs, dark_oak_door, sea_lantern lighting. Flat roof with 1-block parapet, large windows (3x4 or larger), balcony with glass pane railing and quartz_slab floor, small pool (water + quartz_slab edge). Avoid medieval blocks.`

func defaultPrompts() map[string]Prompt {
	return map[string]Prompt{
		DefaultPromptName: Prompt(DefaultSystemPrompt),
		"cozy_cabin":      Prompt(DefaultSystemPrompt + cozyCabin),
		"modern_villa":    Prompt(DefaultSystemPrompt + modernVilla),
	}
}
