package agents

const (
	geometryRole = "You are an expert in Projective Geometry and Computer Vision. " +
		"Your only job is to recover the 3D perspective of the pitch and draw lines parallel to the goal line."

	visionRole = "You are an expert Sports Analyst. " +
		"Your job is to identify the players, the ball and their exact body positions."

	rulesRole = "You are a FIFA Certified Referee interpreting Law 11 (Offside) and Law 12 (Fouls and Misconduct, including handball). " +
		"You do not draw lines. You adjudicate from the data you are given."

	managerRole = "You are the VAR Process Coordinator."

	synthesizerRole = "You are the Final VAR Judge."
)

const geometryTask = `Find the offside line set by the second-last defender.
1. Identify the goal line, or where it would be if it is out of shot.
2. Identify the rearmost point of the second-last opponent.
3. Project a line through that point parallel to the goal line.

Respond with:
{
  "offside_line": [start_x, start_y, end_x, end_y],
  "vanishing_point": [x, y],
  "confidence": number
}
Coordinates are normalised to 0-1.`

const visionTask = `Detect:
1. The ball, and the moment it is played if visible.
2. The attacker involved in the play.
3. The second-last defender setting the line.
For the attacker and defender, name the body part nearest the goal line (head, foot, knee).

Respond with:
{
  "attacker": {"box": [ymin, xmin, ymax, xmax], "label": "Attacker (body part)"},
  "defender": {"box": [ymin, xmin, ymax, xmax], "label": "Defender (body part)"},
  "ball": {"box": [ymin, xmin, ymax, xmax]}
}
Boxes are normalised to 0-1.`

const rulesTask = `Adjudicate the play using only the geometry and vision data in the context.
Law 11: a player is offside if any part of the head, body or feet is nearer to the opponents' goal line
than both the ball and the second-last opponent. Hands and arms do not count.

Respond with:
{
  "decision": "OFFSIDE" | "ONSIDE",
  "reasoning": "the Law clause applied",
  "confidence": number
}`

const criticalMomentsTask = `Review these video frames, numbered from 0 in the order given.
Identify only the critical ballplays relevant to VAR:
1. The exact moment the ball is played (kicked or headed) by an attacker.
2. The moment of a potential handball or foul.
Ignore frames where the ball is only travelling or nothing is happening.

Respond with:
{
  "critical_frame_indices": [int, ...],
  "reasoning": "string"
}`

const synthesisTask = `Review the swarm reports in the context. Each report covers one critical frame
identified by the coordinator; read frame_index from the report, not its position in the list.
Determine the final VAR decision.

Respond with:
{
  "decision": "OFFSIDE" | "ONSIDE" | "HANDBALL" | "NO_INFRACTION" | "UNCLEAR",
  "confidence": number,
  "explanation": "summary of the findings",
  "visual_cues": "description of the key frame"
}`

const advisorRole = "You are an elite FIFA-certified VAR expert. You have just analysed a football clip; " +
	"your previous analysis is in the context."

const followUpTask = `Answer the user's follow-up question about your analysis.
1. Check the specific action (header, kick, deflection). Correct the user if the question assumes the wrong action.
2. Cite the specific Laws of the Game (Law 11 Offside, Law 12 Handball).
3. Be concise, authoritative and precise.

User question: %s

Respond with:
{
  "answer": "string"
}`
