package verdict

import (
	"fmt"

	kidwatch "github.com/kidwatch/kidwatch-go"
)

const responseContract = `Respond with exactly one JSON object and nothing else: {"status": "good" | "bad", "message": string}.
Use "good" when the child behaves well, the message may then be empty.
Use "bad" otherwise, with a short, kind, imperative reminder of at most eight words as message, spoken directly to the child, eg "Sit up straight".`

var instructions = map[kidwatch.Mode]string{
	kidwatch.ModeHomework: `You are watching a child doing homework at a desk, through a camera.
Check whether the child is slouching, distracted from the work (eg looking at a phone, toys or away from the desk), or sleeping or playing instead of working.
If the child is not visible, answer "good".`,

	kidwatch.ModeEating: `You are watching a child eating a meal at the table, through a camera.
Check whether the child uses cutlery improperly (eg eating with hands when a utensil is expected, or holding it wrong), is distracted from the food (eg by a screen or toys), or is talking or playing instead of eating.
If the child is not visible, answer "good".`,
}

// Instruction returns the prompt sent with a frame for mode.
func Instruction(mode kidwatch.Mode) (string, error) {
	s, ok := instructions[mode]
	if !ok {
		return "", fmt.Errorf("%w %q", kidwatch.ErrInvalidMode, mode)
	}
	return s + "\n\n" + responseContract, nil
}
