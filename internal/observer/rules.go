package observer

import "regexp"

// Category groups rules by the kind of signal they detect.
type Category string

const (
	CategoryHealth         Category = "health"
	CategoryFamily         Category = "family"
	CategoryEmotion        Category = "emotion"
	CategorySafety         Category = "safety"
	CategorySocial         Category = "social"
	CategoryActivities     Category = "activities"
	CategoryTimeReference  Category = "time_reference"
	CategoryEnvironment    Category = "environment"
	CategoryADL            Category = "adl"
	CategoryCognitive      Category = "cognitive"
	CategoryHelpRequest    Category = "help_request"
	CategoryEndOfLife      Category = "end_of_life"
	CategoryHydration      Category = "hydration"
	CategoryTransportation Category = "transportation"
	CategoryNews           Category = "news"
	CategoryGoodbye        Category = "goodbye"
	CategoryQuestion       Category = "question"
	CategoryEngagement     Category = "engagement"
	CategoryAcknowledgment Category = "reminder_acknowledgment"
)

// Rule is one compiled observation pattern. Only the fields meaningful for
// its category are set: Severity for risk categories, Valence and Intensity
// for emotion, Strength for goodbye, Confidence and Outcome for reminder
// acknowledgments.
type Rule struct {
	Category   Category
	Label      string
	Pattern    *regexp.Regexp
	Severity   string
	Valence    string
	Intensity  string
	Strength   string
	Confidence float64
	Outcome    string
}

// re compiles a case-insensitive pattern.
func re(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

// ─────────────────────────────────────────────────────────────────────────────
// Health
// ─────────────────────────────────────────────────────────────────────────────

var healthRules = []Rule{
	{Label: "chest_pain", Pattern: re(`\bchest (pain|pains|hurts?|feels? tight|pressure)\b`), Severity: "high"},
	{Label: "breathing", Pattern: re(`\b(can'?t breathe|short(ness)? of breath|hard to breathe|winded|wheezing)\b`), Severity: "high"},
	{Label: "dizzy", Pattern: re(`\b(dizzy|dizziness|light[\s-]?headed|the room (was|is) spinning|vertigo)\b`), Severity: "high"},
	{Label: "numbness", Pattern: re(`\b(numb|numbness|tingling|pins and needles)\b`), Severity: "high"},
	{Label: "vision", Pattern: re(`\b(blurry|blurred|double vision|can'?t see (right|well|straight))\b`), Severity: "high"},
	{Label: "bleeding", Pattern: re(`\b(bleeding|blood in|won'?t stop bleeding)\b`), Severity: "high"},
	{Label: "heart", Pattern: re(`\bheart (racing|pounding|fluttering|skipp(ed|ing))\b`), Severity: "high"},
	{Label: "swelling", Pattern: re(`\b(swollen|swelling|puffed up)\b`), Severity: "medium"},
	{Label: "pain_general", Pattern: re(`\b(in (a lot of|so much) pain|really hurts?|hurts? (so )?bad(ly)?|terrible pain|awful pain)\b`), Severity: "high"},
	{Label: "pain_mild", Pattern: re(`\b(aches?|aching|a little sore|bit sore|twinge|stiff)\b`), Severity: "medium"},
	{Label: "headache", Pattern: re(`\b(headache|migraine|head (hurts|is pounding))\b`), Severity: "medium"},
	{Label: "back_pain", Pattern: re(`\bback (hurts?|pain|is killing me|went out)\b`), Severity: "medium"},
	{Label: "joint_pain", Pattern: re(`\b(knee|hip|shoulder|joint)s? (hurts?|pain|acting up|bothering me)\b`), Severity: "medium"},
	{Label: "arthritis", Pattern: re(`\barthritis\b`), Severity: "medium"},
	{Label: "nausea", Pattern: re(`\b(nauseous|nausea|sick to my stomach|threw up|vomit(ed|ing)?|queasy)\b`), Severity: "medium"},
	{Label: "appetite", Pattern: re(`\b(no appetite|not (been )?eating|haven'?t (eaten|been hungry)|don'?t feel like eating)\b`), Severity: "medium"},
	{Label: "fatigue", Pattern: re(`\b(exhausted|worn out|no energy|so tired lately|weak(er)? than usual)\b`), Severity: "medium"},
	{Label: "fever", Pattern: re(`\b(fever|feverish|running a temperature|chills)\b`), Severity: "medium"},
	{Label: "cough", Pattern: re(`\b(cough|coughing|congested|stuffed up|sore throat)\b`), Severity: "low"},
	{Label: "cold_flu", Pattern: re(`\b(caught a cold|coming down with|the flu|under the weather)\b`), Severity: "low"},
	{Label: "blood_pressure", Pattern: re(`\bblood pressure\b`), Severity: "medium"},
	{Label: "blood_sugar", Pattern: re(`\b(blood sugar|sugar (is|was) (high|low)|diabet(es|ic))\b`), Severity: "medium"},
	{Label: "medication_issue", Pattern: re(`\b(ran out of|missed) my (pills?|medication|medicine)\b`), Severity: "high"},
	{Label: "medication_side_effect", Pattern: re(`\b(pills?|medication|medicine) (makes? me|making me) (dizzy|sick|drowsy|foggy)\b`), Severity: "high"},
	{Label: "new_medication", Pattern: re(`\b(new (pill|medication|medicine|prescription)|started taking)\b`), Severity: "medium"},
	{Label: "doctor_visit", Pattern: re(`\b(doctor ('s)?appointment|saw the doctor|going to the doctor|specialist)\b`), Severity: "low"},
	{Label: "hospital", Pattern: re(`\b(hospital|emergency room|the ER|urgent care)\b`), Severity: "high"},
	{Label: "hearing", Pattern: re(`\b(can'?t hear|hearing aid|hard of hearing)\b`), Severity: "low"},
	{Label: "dental", Pattern: re(`\b(tooth(ache)?|dentures?|dentist)\b`), Severity: "low"},
	{Label: "skin", Pattern: re(`\b(rash|itchy|bruise[sd]?|this bruise)\b`), Severity: "low"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Safety
// ─────────────────────────────────────────────────────────────────────────────

var safetyRules = []Rule{
	{Label: "fall", Pattern: re(`\b(i fell|i'?ve fallen|had a fall|took a (fall|tumble)|fell (down|over|off))\b`), Severity: "high"},
	{Label: "fall_risk", Pattern: re(`\b(almost fell|nearly fell|lost my balance|unsteady|wobbly)\b`), Severity: "high"},
	{Label: "on_floor", Pattern: re(`\b(on the floor|couldn'?t get up|can'?t get up)\b`), Severity: "high"},
	{Label: "fire", Pattern: re(`\b(fire|smoke|something('?s| is) burning|left the (stove|oven|burner) on)\b`), Severity: "high"},
	{Label: "gas", Pattern: re(`\bsmell (gas|something strange|something funny)\b`), Severity: "high"},
	{Label: "break_in", Pattern: re(`\b(someone (broke|tried to break) in|burglar|prowler)\b`), Severity: "high"},
	{Label: "stranger", Pattern: re(`\b(strange (man|woman|person)|stranger) (at|knocking|came to) (the|my) door\b`), Severity: "high"},
	{Label: "scam", Pattern: re(`\b(scam|asked for my (bank|credit card|social security)|wanted money|gift cards?)\b`), Severity: "high"},
	{Label: "door_unlocked", Pattern: re(`\b(door('?s| is| was) unlocked|forgot to lock)\b`), Severity: "medium"},
	{Label: "power_out", Pattern: re(`\b(power('?s| is) out|no electricity|lights went out)\b`), Severity: "medium"},
	{Label: "locked_out", Pattern: re(`\b(locked (myself )?out|lost my keys)\b`), Severity: "medium"},
	{Label: "injury", Pattern: re(`\b(cut myself|burn(ed|t) myself|hit my head|hurt myself)\b`), Severity: "high"},
	{Label: "emergency", Pattern: re(`\b(call (911|an ambulance)|emergency|help me please)\b`), Severity: "high"},
	{Label: "alone_unsafe", Pattern: re(`\b(don'?t feel safe|scared to be (here|alone)|afraid someone)\b`), Severity: "high"},
	{Label: "wandering", Pattern: re(`\b(didn'?t know where i was|got lost (coming|going|on my way))\b`), Severity: "high"},
	{Label: "weather_hazard", Pattern: re(`\b(ice on the|icy|sidewalk('?s| is) slippery|heat wave|so hot in (here|the house))\b`), Severity: "medium"},
	{Label: "stove", Pattern: re(`\b(forgot (about )?the (stove|oven|kettle)|burned the)\b`), Severity: "medium"},
	{Label: "medication_double", Pattern: re(`\b(took (it|them|my pills?) twice|double dose|can'?t remember if i took)\b`), Severity: "high"},
	{Label: "driving_incident", Pattern: re(`\b(fender bender|scraped the car|almost (hit|crashed))\b`), Severity: "medium"},
	{Label: "phone_trouble", Pattern: re(`\b(phone('?s| is) (almost )?dead|couldn'?t call|phone (isn'?t|not) working)\b`), Severity: "medium"},
}

// ─────────────────────────────────────────────────────────────────────────────
// End of life
// ─────────────────────────────────────────────────────────────────────────────

var endOfLifeRules = []Rule{
	{Label: "despair", Pattern: re(`\b(don'?t want to (live|go on|be here)( anymore)?|no reason to (live|go on)|better off (dead|without me))\b`), Severity: "critical"},
	{Label: "self_harm", Pattern: re(`\b(hurt myself|end it all|ending my life)\b`), Severity: "critical"},
	{Label: "given_up", Pattern: re(`\b(what'?s the point( of (it all|anything))?|given up|ready to go|ready for it to be over)\b`), Severity: "critical"},
	{Label: "burden", Pattern: re(`\b(i'?m (just )?a burden|everyone('?d| would) be better off)\b`), Severity: "critical"},
	{Label: "mortality", Pattern: re(`\b(when i'?m gone|after i die|won'?t be around (much longer|forever))\b`), Severity: "notable"},
	{Label: "funeral", Pattern: re(`\b(my funeral|funeral arrangements|burial|cremat(ed|ion))\b`), Severity: "notable"},
	{Label: "will", Pattern: re(`\b(my will|the will|leaving (the house|everything) to|inheritance)\b`), Severity: "notable"},
	{Label: "affairs", Pattern: re(`\b(get(ting)? my affairs in order|sort(ing)? out my things)\b`), Severity: "notable"},
	{Label: "lost_spouse", Pattern: re(`\b(since (he|she|my husband|my wife) (passed|died)|lost my (husband|wife))\b`), Severity: "notable"},
	{Label: "peer_death", Pattern: re(`\b((friend|neighbor|neighbour) (just )?(passed( away)?|died)|another funeral)\b`), Severity: "notable"},
	{Label: "legacy", Pattern: re(`\b(remember me|something to remember|pass(ing)? (it|this) down)\b`), Severity: "notable"},
	{Label: "tired_of_life", Pattern: re(`\b(lived long enough|too old for this|outlived)\b`), Severity: "notable"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Activities of daily living
// ─────────────────────────────────────────────────────────────────────────────

var adlRules = []Rule{
	{Label: "bathing", Pattern: re(`\b(trouble|hard( for me)?|can'?t manage|struggle) (to |with )?(shower(ing)?|bath(e|ing)?|wash(ing)?)\b`), Severity: "high"},
	{Label: "bathing_skip", Pattern: re(`\bhaven'?t (showered|bathed|washed) (in|since|for)\b`), Severity: "high"},
	{Label: "dressing", Pattern: re(`\b(can'?t|trouble|hard to) (get(ting)? dressed|button|zip|put(ting)? on my)\b`), Severity: "high"},
	{Label: "stairs", Pattern: re(`\b(stairs are (hard|tough|too much)|can'?t (do|manage|climb) the stairs|sleep(ing)? downstairs now)\b`), Severity: "high"},
	{Label: "toilet", Pattern: re(`\b(accident(s)? (at night|again)|didn'?t make it to the bathroom|bladder)\b`), Severity: "high"},
	{Label: "cooking_unable", Pattern: re(`\b(can'?t cook( for myself)? anymore|too (tired|hard) to cook|stopped cooking)\b`), Severity: "high"},
	{Label: "meals_skipped", Pattern: re(`\b(skipp(ed|ing) (meals|lunch|dinner|breakfast)|just (crackers|toast|cereal) (again|for dinner))\b`), Severity: "high"},
	{Label: "housework", Pattern: re(`\b(house('?s| is) a mess|can'?t keep up with (the house|cleaning)|laundry('?s| is) pil(ed|ing) up)\b`), Severity: "medium"},
	{Label: "shopping", Pattern: re(`\b(can'?t (get|make it) to the (store|grocery|market)|out of groceries|fridge is empty)\b`), Severity: "high"},
	{Label: "mobility_aid", Pattern: re(`\b(walker|cane|wheelchair|grab bars?)\b`), Severity: "medium"},
	{Label: "getting_up", Pattern: re(`\b(hard to get (up|out of (bed|the chair))|struggle(d)? to stand)\b`), Severity: "high"},
	{Label: "dropped_things", Pattern: re(`\b(keep dropping|can'?t (hold|grip|open) (the jar|things|bottles))\b`), Severity: "medium"},
	{Label: "reaching", Pattern: re(`\b(can'?t reach|too high (up|for me)|need the step ?stool)\b`), Severity: "medium"},
	{Label: "bills", Pattern: re(`\b(forgot to pay|bills? (are )?(overdue|piling up)|couldn'?t figure out the bill)\b`), Severity: "medium"},
	{Label: "managing_fine", Pattern: re(`\bmanag(ing|e) (just )?fine on my own\b`), Severity: "low"},
	{Label: "sleep_trouble", Pattern: re(`\b(couldn'?t sleep|up all night|barely slept|tossing and turning)\b`), Severity: "medium"},
	{Label: "sleep_schedule", Pattern: re(`\b(sleep(ing)? (all day|past noon)|up at (3|4|three|four) in the morning)\b`), Severity: "medium"},
	{Label: "grooming", Pattern: re(`\b(haven'?t brushed|hair('?s| is) a mess|couldn'?t shave)\b`), Severity: "medium"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Cognitive
// ─────────────────────────────────────────────────────────────────────────────

var cognitiveRules = []Rule{
	{Label: "memory_gap", Pattern: re(`\b(can'?t remember|don'?t remember|memory('?s| is) (going|not what it was)|forget(ting)? things)\b`), Severity: "high"},
	{Label: "forgot_recent", Pattern: re(`\b(forgot (what|where|why|who)|what was i (saying|doing))\b`), Severity: "high"},
	{Label: "confusion", Pattern: re(`\b(confused|mixed up|can'?t think straight|foggy|fuzzy)\b`), Severity: "high"},
	{Label: "disorientation_time", Pattern: re(`\b(what day is (it|today)|lost track of (the )?(days?|time)|thought it was (monday|tuesday|wednesday|thursday|friday|saturday|sunday))\b`), Severity: "high"},
	{Label: "misplaced", Pattern: re(`\b(can'?t find my (keys|glasses|purse|wallet|phone)|misplaced|keep losing)\b`), Severity: "medium"},
	{Label: "repetition", Pattern: re(`\b(did i (already )?(tell|ask) you|have i said this( before)?|told you (this|that) already)\b`), Severity: "medium"},
	{Label: "names", Pattern: re(`\b(can'?t (recall|remember) (his|her|their|the) name|name escapes me|whats?[\s-]?(his|her)[\s-]?name)\b`), Severity: "medium"},
	{Label: "words", Pattern: re(`\b(can'?t find the word|word'?s on the tip of my tongue)\b`), Severity: "medium"},
	{Label: "appointments_forgotten", Pattern: re(`\b(forgot (about )?(the|my) appointment|missed (the|my) appointment)\b`), Severity: "high"},
	{Label: "unfamiliar", Pattern: re(`\b(didn'?t recognize|looked unfamiliar|couldn'?t place (him|her|it))\b`), Severity: "high"},
	{Label: "decisions", Pattern: re(`\b(can'?t (decide|make up my mind)|too many choices|overwhelm(ed|ing))\b`), Severity: "medium"},
	{Label: "tv_plot", Pattern: re(`\b(couldn'?t follow (the show|the story|along)|lost the plot)\b`), Severity: "medium"},
	{Label: "sharp_today", Pattern: re(`\b(sharp as a tack|mind('?s| is) (still )?(good|sharp|clear))\b`), Severity: "low"},
	{Label: "rambling", Pattern: re(`\b(where was i|what were we talking about|lost my train of thought)\b`), Severity: "medium"},
	{Label: "double_booking", Pattern: re(`\b(wrote it down twice|two appointments? at the same)\b`), Severity: "medium"},
	{Label: "stove_memory", Pattern: re(`\b(did i turn off|can'?t remember if i (turned|locked|closed))\b`), Severity: "high"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Hydration
// ─────────────────────────────────────────────────────────────────────────────

var hydrationRules = []Rule{
	{Label: "not_drinking", Pattern: re(`\b(haven'?t (had|drunk|been drinking) (much|any|enough) water|forget to drink)\b`), Severity: "high"},
	{Label: "thirst", Pattern: re(`\b(so thirsty|mouth('?s| is) dry|dry mouth|parched)\b`), Severity: "high"},
	{Label: "dark_urine", Pattern: re(`\b(urine('?s| is| was) dark|hardly (been )?going)\b`), Severity: "high"},
	{Label: "only_coffee", Pattern: re(`\b(just|only) (coffee|tea) (today|all day|so far)\b`), Severity: "medium"},
	{Label: "dislikes_water", Pattern: re(`\b(don'?t like (plain )?water|water('?s| is) boring)\b`), Severity: "medium"},
	{Label: "hot_day_no_fluids", Pattern: re(`\b(sweat(ing|ed) (a lot|buckets)|so hot (today|out)).{0,40}\b(tired|dizzy|worn out)\b`), Severity: "high"},
	{Label: "drinking_well", Pattern: re(`\b(drinking (plenty|lots) of water|finished my water|had my glasses of water)\b`), Severity: "low"},
	{Label: "fluid_restriction", Pattern: re(`\b(doctor (said|told me) (to limit|not too much) (fluids|water))\b`), Severity: "medium"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Help requests
// ─────────────────────────────────────────────────────────────────────────────

var helpRequestRules = []Rule{
	{Label: "direct", Pattern: re(`\b(can you help( me)?|i need (some )?help|help me (with|figure|find))\b`)},
	{Label: "who_to_call", Pattern: re(`\b(who (do|should) i call|who can i (ask|call)|is there (someone|a number))\b`)},
	{Label: "how_to", Pattern: re(`\b(how do i|don'?t know how to|can'?t figure out (how|the))\b`)},
	{Label: "remind_me", Pattern: re(`\b(remind me (to|about|later)|don'?t let me forget)\b`)},
	{Label: "contact_family", Pattern: re(`\b(tell (my )?(sarah|daughter|son|family)|let (them|her|him) know|pass (that|this|it) along)\b`)},
	{Label: "errand", Pattern: re(`\b(need (a ride|someone to (pick|drop|get))|could someone (bring|fetch))\b`)},
	{Label: "tech_help", Pattern: re(`\b((tv|remote|computer|tablet|phone) (isn'?t|is not|stopped) working|screen (went|is) (black|frozen))\b`)},
	{Label: "paperwork", Pattern: re(`\b(form|paperwork|insurance) (i|that) (don'?t|can'?t) understand\b`)},
	{Label: "repair", Pattern: re(`\b((faucet|toilet|furnace|heater|roof)('?s| is) (leaking|broken|acting up)|need(s)? (fixing|a repairman))\b`)},
	{Label: "lonely_request", Pattern: re(`\b(wish (someone|somebody) (would )?(visit|call|come by)|could use (some )?company)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Emotion
// ─────────────────────────────────────────────────────────────────────────────

var emotionRules = []Rule{
	{Label: "lonely", Pattern: re(`\b(so lonely|feel(ing)? (all )?alone|nobody (calls|visits|comes)|no one to talk to)\b`), Valence: "negative", Intensity: "high"},
	{Label: "sad_strong", Pattern: re(`\b(cry(ing)?|cried|in tears|heartbroken|miserable)\b`), Valence: "negative", Intensity: "high"},
	{Label: "sad", Pattern: re(`\b(sad|feeling (down|low|blue)|down in the dumps)\b`), Valence: "negative", Intensity: "medium"},
	{Label: "depressed", Pattern: re(`\b(depress(ed|ion)|hopeless|empty inside)\b`), Valence: "negative", Intensity: "high"},
	{Label: "anxious", Pattern: re(`\b(anxious|anxiety|worried sick|can'?t stop worrying|on edge|nervous wreck)\b`), Valence: "negative", Intensity: "high"},
	{Label: "worried", Pattern: re(`\b(worr(ied|ying)|concerned about|uneasy)\b`), Valence: "negative", Intensity: "medium"},
	{Label: "scared", Pattern: re(`\b(scared|frightened|terrified|afraid)\b`), Valence: "negative", Intensity: "high"},
	{Label: "angry", Pattern: re(`\b(so (angry|mad)|furious|fed up|sick and tired of)\b`), Valence: "negative", Intensity: "high"},
	{Label: "frustrated", Pattern: re(`\b(frustrat(ed|ing)|annoyed|irritat(ed|ing)|drives me crazy)\b`), Valence: "negative", Intensity: "medium"},
	{Label: "missing_someone", Pattern: re(`\b(miss (him|her|them|my)|wish (he|she|they) (was|were) here)\b`), Valence: "negative", Intensity: "medium"},
	{Label: "grief", Pattern: re(`\b(griev(e|ing)|mourning|still hurts (to think|when i think))\b`), Valence: "negative", Intensity: "high"},
	{Label: "useless", Pattern: re(`\b(feel(ing)? useless|good for nothing|in the way)\b`), Valence: "negative", Intensity: "high"},
	{Label: "bored", Pattern: re(`\b(bored|nothing to do|days? (drag|all the same))\b`), Valence: "negative", Intensity: "medium"},
	{Label: "overwhelmed", Pattern: re(`\b(too much for me|can'?t (cope|handle it)|at my wit'?s end)\b`), Valence: "negative", Intensity: "high"},
	{Label: "upset_vague", Pattern: re(`\b(upset|bothered|not myself (today|lately))\b`), Valence: "negative", Intensity: "medium"},
	{Label: "crying_happy", Pattern: re(`\b(tears of joy|cried (from|with) (joy|happiness))\b`), Valence: "positive", Intensity: "high"},
	{Label: "delighted", Pattern: re(`\b(wonderful|marvelous|delighted|thrilled|over the moon|tickled pink)\b`), Valence: "positive", Intensity: "high"},
	{Label: "happy", Pattern: re(`\b(happy|glad|pleased|cheerful|in good spirits)\b`), Valence: "positive", Intensity: "medium"},
	{Label: "grateful", Pattern: re(`\b(grateful|thankful|blessed|lucky to have)\b`), Valence: "positive", Intensity: "medium"},
	{Label: "proud", Pattern: re(`\b(so proud|proud of (him|her|them|my))\b`), Valence: "positive", Intensity: "high"},
	{Label: "excited", Pattern: re(`\b(excited|can'?t wait|looking forward to)\b`), Valence: "positive", Intensity: "high"},
	{Label: "content", Pattern: re(`\b(content|at peace|can'?t complain|doing (just )?fine)\b`), Valence: "positive", Intensity: "medium"},
	{Label: "laughter", Pattern: re(`\b(laughed (so hard|until)|funniest thing|had a good laugh)\b`), Valence: "positive", Intensity: "high"},
	{Label: "enjoyed", Pattern: re(`\b(enjoyed|had a (lovely|great|nice|good) time|lovely (day|visit|chat))\b`), Valence: "positive", Intensity: "medium"},
	{Label: "loved", Pattern: re(`\b(felt loved|they love me|so kind to me)\b`), Valence: "positive", Intensity: "high"},
	{Label: "hopeful", Pattern: re(`\b(hopeful|things are looking up|better days)\b`), Valence: "positive", Intensity: "medium"},
	{Label: "relieved", Pattern: re(`\b(relieved|weight off my (shoulders|mind)|thank goodness)\b`), Valence: "positive", Intensity: "medium"},
	{Label: "nostalgic", Pattern: re(`\b(brings back memories|the good old days|back in my day|when i was (young|a girl|a boy))\b`), Valence: "positive", Intensity: "medium"},
	{Label: "calm", Pattern: re(`\b(peaceful|quiet morning|nice and calm)\b`), Valence: "positive", Intensity: "medium"},
	{Label: "embarrassed", Pattern: re(`\b(embarrass(ed|ing)|felt (so )?foolish|silly of me)\b`), Valence: "negative", Intensity: "medium"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Family
// ─────────────────────────────────────────────────────────────────────────────

var familyRules = []Rule{
	{Label: "visit", Pattern: re(`\b(daughter|son|sister|brother|niece|nephew|family) (came|comes|is coming|visited|stopped by|dropped by)\b`)},
	{Label: "visit_grandchild", Pattern: re(`\b(grandson|granddaughter|grandkids?|grandchildren) (came|comes|is coming|visited|stopped by)\b`)},
	{Label: "call", Pattern: re(`\b(daughter|son|sister|brother|grandson|granddaughter) (called|phoned|rang|facetimed)\b`)},
	{Label: "mention_child", Pattern: re(`\bmy (daughter|son)( in law)?\b`)},
	{Label: "mention_grandchild", Pattern: re(`\bmy (grandson|granddaughter|grandkids|grandchildren|great[\s-]grand)\b`)},
	{Label: "mention_sibling", Pattern: re(`\bmy (sister|brother)\b`)},
	{Label: "mention_spouse", Pattern: re(`\bmy (husband|wife)\b`)},
	{Label: "milestone", Pattern: re(`\b(graduat(ed|ion)|engaged|wedding|new baby|expecting|pregnant|promotion)\b`)},
	{Label: "birthday", Pattern: re(`\b(birthday|turning (eighty|ninety|seventy)|anniversary)\b`)},
	{Label: "holiday_plans", Pattern: re(`\b(thanksgiving|christmas|easter|hanukkah|the holidays?) (with|at|plans)\b`)},
	{Label: "photos", Pattern: re(`\b(sent (me )?(pictures|photos)|showed me (pictures|photos))\b`)},
	{Label: "distance", Pattern: re(`\b(lives? (so )?far( away)?|out in (denver|california|texas|florida)|across the country)\b`)},
	{Label: "family_conflict", Pattern: re(`\b((aren'?t|not) speaking|had (a falling out|words)|argument with (my|the))\b`)},
	{Label: "worry_family", Pattern: re(`\bworried about (my )?(daughter|son|grandson|granddaughter)\b`)},
	{Label: "family_busy", Pattern: re(`\b(too busy to (call|visit)|haven'?t heard from|never calls? anymore)\b`)},
	{Label: "caregiving", Pattern: re(`\b(takes? (good )?care of me|checks? (in )?on me|does my (shopping|errands))\b`)},
	{Label: "pet_family", Pattern: re(`\b(brought the dog|the grandkids'? (dog|cat))\b`)},
	{Label: "recipe_tradition", Pattern: re(`\b(my mother'?s recipe|family recipe|passed down)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Social
// ─────────────────────────────────────────────────────────────────────────────

var socialRules = []Rule{
	{Label: "friend_contact", Pattern: re(`\b(friend|friends) (came|called|visited|stopped by|and i)\b`)},
	{Label: "neighbor", Pattern: re(`\b(neighbor|neighbour|next door|across the (street|hall))\b`)},
	{Label: "club", Pattern: re(`\b(bridge (club|group|game)|book club|bingo|senior center|knitting (circle|group))\b`)},
	{Label: "church_group", Pattern: re(`\b(church (group|ladies|friends|potluck)|bible study|choir practice)\b`)},
	{Label: "outing", Pattern: re(`\b(went (out )?(to lunch|for coffee|to dinner) with|luncheon)\b`)},
	{Label: "party", Pattern: re(`\b(party|get[\s-]?together|gathering|potluck|barbecue)\b`)},
	{Label: "volunteering", Pattern: re(`\b(volunteer(ing)?|food (bank|pantry)|helping out at)\b`)},
	{Label: "new_people", Pattern: re(`\b(met (someone|a (nice|lovely)) |new (friend|member|resident))\b`)},
	{Label: "isolation", Pattern: re(`\b(haven'?t (seen|talked to) (anyone|a soul)|nobody (around|to talk to)|by myself all (day|week))\b`)},
	{Label: "canceled_plans", Pattern: re(`\b(cancell?ed( on me)?|called it off|didn'?t (show|come))\b`)},
	{Label: "phone_chat", Pattern: re(`\b(long (chat|talk) (on the phone|with)|caught up with)\b`)},
	{Label: "community_event", Pattern: re(`\b(farmers'? market|craft fair|town hall|community (event|dinner))\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Activities
// ─────────────────────────────────────────────────────────────────────────────

var activityRules = []Rule{
	{Label: "gardening", Pattern: re(`\b(garden(ing)?|planted|pruning|watering the|roses|tomatoes)\b`)},
	{Label: "cooking", Pattern: re(`\b(baked|baking|cooked|made (a|some) (pie|casserole|soup|batch))\b`)},
	{Label: "walking", Pattern: re(`\b(went for a walk|took a walk|walked (around|to|down))\b`)},
	{Label: "reading", Pattern: re(`\b(reading|finished (a|the|my) book|new book|library)\b`)},
	{Label: "tv", Pattern: re(`\b(watch(ed|ing) (tv|television|my (show|program|stories))|jeopardy|wheel of fortune)\b`)},
	{Label: "crafts", Pattern: re(`\b(knit(ting|ted)?|crochet(ing)?|quilt(ing)?|sewing|needlepoint)\b`)},
	{Label: "puzzle", Pattern: re(`\b(puzzle|crossword|sudoku|word search|solitaire)\b`)},
	{Label: "music", Pattern: re(`\b(listening to|played the|piano|records|the radio)\b`)},
	{Label: "baking_for", Pattern: re(`\b(cookies for|baked for|making (something|a cake) for)\b`)},
	{Label: "exercise", Pattern: re(`\b(exercises?|stretching|chair yoga|physical therapy|my therapy)\b`)},
	{Label: "birdwatching", Pattern: re(`\b(bird ?(feeder|bath|watching)|cardinals?|hummingbirds?)\b`)},
	{Label: "cards_games", Pattern: re(`\b(played cards|card game|gin rummy|canasta|dominoes)\b`)},
	{Label: "church_service", Pattern: re(`\b(went to (church|mass|service)|sunday service)\b`)},
	{Label: "cleaning_project", Pattern: re(`\b(organized|cleaned out|went through (the closet|old)|sorting)\b`)},
	{Label: "shopping_trip", Pattern: re(`\b(went (shopping|to the store|to the mall)|picked up (a few|some) things)\b`)},
	{Label: "nap", Pattern: re(`\b(took a nap|dozed off|little rest)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Time reference
// ─────────────────────────────────────────────────────────────────────────────

var timeReferenceRules = []Rule{
	{Label: "this_morning", Pattern: re(`\bthis morning\b`)},
	{Label: "today", Pattern: re(`\b(today|earlier today)\b`)},
	{Label: "yesterday", Pattern: re(`\byesterday\b`)},
	{Label: "last_night", Pattern: re(`\blast night\b`)},
	{Label: "this_week", Pattern: re(`\b(this week|the other day|a few days ago)\b`)},
	{Label: "last_week", Pattern: re(`\blast (week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)},
	{Label: "tomorrow", Pattern: re(`\btomorrow\b`)},
	{Label: "upcoming", Pattern: re(`\b(next (week|month|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|coming up|later this)\b`)},
	{Label: "tonight", Pattern: re(`\b(tonight|this (afternoon|evening))\b`)},
	{Label: "long_ago", Pattern: re(`\b(years ago|a long time ago|decades|back in (19|20)\d\d)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Environment
// ─────────────────────────────────────────────────────────────────────────────

var environmentRules = []Rule{
	{Label: "too_cold", Pattern: re(`\b(freezing in here|house (is|has been) (cold|freezing)|heat(er|ing)? (isn'?t|not) working|furnace)\b`)},
	{Label: "too_hot", Pattern: re(`\b(sweltering|house (is|has been) (hot|stuffy)|air condition(er|ing)|the ac\b)\b`)},
	{Label: "yard", Pattern: re(`\b(yard|lawn|leaves (need|piling)|snow (needs? )?(shovel|clearing))\b`)},
	{Label: "repairs_needed", Pattern: re(`\b((roof|window|door|fence)('?s| is) (leaking|broken|stuck|drafty))\b`)},
	{Label: "clutter", Pattern: re(`\b(so much (stuff|clutter)|boxes everywhere|need to clear out)\b`)},
	{Label: "neighborhood", Pattern: re(`\b(construction|new (people|family) moved in|street('?s| is) (noisy|quiet))\b`)},
	{Label: "pests", Pattern: re(`\b(mice|ants|squirrels in the|raccoons?|wasps?)\b`)},
	{Label: "garden_weather", Pattern: re(`\b(frost (got|killed)|rain (ruined|flooded)|wind (knocked|blew))\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Transportation
// ─────────────────────────────────────────────────────────────────────────────

var transportationRules = []Rule{
	{Label: "stopped_driving", Pattern: re(`\b(don'?t drive anymore|gave up (driving|the car)|took (away )?my (keys|license))\b`)},
	{Label: "driving_worry", Pattern: re(`\b(nervous driving|don'?t like driving (at night|in the rain|on the highway))\b`)},
	{Label: "needs_ride", Pattern: re(`\b(need a ride|no way to get (there|to)|waiting for a ride)\b`)},
	{Label: "ride_service", Pattern: re(`\b(the senior (van|shuttle|bus)|paratransit|uber|taxi)\b`)},
	{Label: "bus", Pattern: re(`\b(took the bus|bus (route|stop|schedule))\b`)},
	{Label: "car_trouble", Pattern: re(`\b(car (won'?t start|is in the shop|trouble)|flat tire|battery('?s| is) dead)\b`)},
	{Label: "missed_transport", Pattern: re(`\b(missed (the|my) (bus|ride|van)|ride never (came|showed))\b`)},
	{Label: "walking_distance", Pattern: re(`\b(too far to walk|can'?t walk that far)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// News
// ─────────────────────────────────────────────────────────────────────────────

var newsRules = []Rule{
	{Label: "tv_news", Pattern: re(`\b(on the news|saw on (tv|the news)|news (said|says))\b`)},
	{Label: "paper", Pattern: re(`\b(in the (paper|newspaper)|read (in|about) the)\b`)},
	{Label: "weather_forecast", Pattern: re(`\b(forecast|they'?re (saying|calling for) (rain|snow|a storm|heat))\b`)},
	{Label: "local_event", Pattern: re(`\b((heard|news) about the (fire|accident|robbery) (on|at|near)|happened (downtown|on main))\b`)},
	{Label: "politics", Pattern: re(`\b(election|president|governor|mayor|voting|the debate)\b`)},
	{Label: "prices", Pattern: re(`\b(prices? (are|going) (up|through the roof)|groceries cost|gas prices)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Goodbye
// ─────────────────────────────────────────────────────────────────────────────

var goodbyeRules = []Rule{
	{Label: "goodbye_word", Pattern: re(`\b(good[\s-]?bye|bye[\s-]?bye|bye now)\b`), Strength: "strong"},
	{Label: "bye_alone", Pattern: re(`^\s*bye[.!\s]*$`), Strength: "strong"},
	{Label: "talk_later", Pattern: re(`\b(talk (to you )?(later|soon|tomorrow)|speak (to you )?(soon|tomorrow))\b`), Strength: "strong"},
	{Label: "gotta_go", Pattern: re(`\b((i'?ve? )?got(ta| to) (go|run|get going)|need to (go|get going|run)|have to go)\b`), Strength: "strong"},
	{Label: "hanging_up", Pattern: re(`\b(hang(ing)? up now|let you go now)\b`), Strength: "strong"},
	{Label: "goodnight", Pattern: re(`\b(good ?night|nighty[\s-]?night)\b`), Strength: "strong"},
	{Label: "see_you", Pattern: re(`\b(see you (later|soon|tomorrow)|until (next time|tomorrow))\b`), Strength: "strong"},
	{Label: "thanks_for_calling", Pattern: re(`\b(thanks? for (calling|the call|checking in|the chat))\b`), Strength: "strong"},
	{Label: "lunch_waiting", Pattern: re(`\b(my (lunch|dinner|supper|show)('?s| is) (ready|waiting|starting|on))\b`), Strength: "strong"},
	{Label: "someone_here", Pattern: re(`\b((someone|somebody)('?s| is) (here|at the door)|doorbell)\b`), Strength: "strong"},
	{Label: "wrapping_up", Pattern: re(`\b(it'?s getting late|better let you go|i should go)\b`), Strength: "weak"},
	{Label: "anyway", Pattern: re(`\b(well,? anyway|anyhow|so anyway)\b`), Strength: "weak"},
	{Label: "winding_down", Pattern: re(`\b(that'?s (about it|all)( for (today|now))?|nothing else (to report|going on))\b`), Strength: "weak"},
	{Label: "tired_ending", Pattern: re(`\b(getting (sleepy|tired)|time for my nap|going to lie down)\b`), Strength: "weak"},
}

// ─────────────────────────────────────────────────────────────────────────────
// Question
// ─────────────────────────────────────────────────────────────────────────────

var questionRules = []Rule{
	{Label: "what", Pattern: re(`\bwhat('?s| is| was| time| day| about)\b.*\?`)},
	{Label: "when", Pattern: re(`\bwhen (is|was|do|does|did|will)\b.*\?`)},
	{Label: "where", Pattern: re(`\bwhere (is|was|do|did|can)\b.*\?`)},
	{Label: "how", Pattern: re(`\bhow (do|does|did|can|long|much|many|about)\b.*\?`)},
	{Label: "why", Pattern: re(`\bwhy (is|was|do|does|did|can'?t)\b.*\?`)},
	{Label: "who", Pattern: re(`\bwho (is|was|do|did|should)\b.*\?`)},
	{Label: "can_you", Pattern: re(`\b(can|could|would|will) you\b.*\?`)},
	{Label: "do_you_know", Pattern: re(`\bdo you (know|think|remember)\b`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Engagement (low-engagement signals)
// ─────────────────────────────────────────────────────────────────────────────

var engagementRules = []Rule{
	{Label: "minimal_fine", Pattern: re(`^\s*(i'?m )?(fine|okay|ok|alright|all right)[.!\s]*$`)},
	{Label: "minimal_yes_no", Pattern: re(`^\s*(yes|yeah|yep|no|nope|nah)[.!\s]*$`)},
	{Label: "minimal_filler", Pattern: re(`^\s*(mhm+|mm+|uh[\s-]?huh|hmm+|sure)[.!\s]*$`)},
	{Label: "i_guess", Pattern: re(`\b(i guess( so)?|if you say so|suppose so)\b`)},
	{Label: "not_much", Pattern: re(`^\s*(not (much|really)|nothing( much| new| really)?)[.!\s]*$`)},
	{Label: "whatever", Pattern: re(`\b(whatever|doesn'?t matter|don'?t care( much)?)\b`)},
	{Label: "same_old", Pattern: re(`\b(same (old|as always|as usual)|nothing ever changes)\b`)},
	{Label: "dont_know", Pattern: re(`^\s*(i )?don'?t know[.!\s]*$`)},
	{Label: "short_dismissal", Pattern: re(`\b(never mind|forget (it|about it)|it'?s nothing)\b`)},
	{Label: "tired_reply", Pattern: re(`^\s*(just )?tired[.!\s]*$`)},
}

// ─────────────────────────────────────────────────────────────────────────────
// Reminder acknowledgment
// ─────────────────────────────────────────────────────────────────────────────

var acknowledgmentRules = []Rule{
	{Label: "took_already", Pattern: re(`\b(already took (it|them|my)|took (it|them|my pills?) (this morning|earlier|already|at))\b`), Confidence: 0.95, Outcome: "confirmed"},
	{Label: "just_took", Pattern: re(`\b(just took (it|them)|taking (it|them) (right )?now|i('?m| am) taking)\b`), Confidence: 0.95, Outcome: "confirmed"},
	{Label: "done_it", Pattern: re(`\b(i did( that)?( already)?|all done|done and done|already (did|done))\b`), Confidence: 0.85, Outcome: "confirmed"},
	{Label: "yes_took", Pattern: re(`\b(yes,? i (took|did|have)|i have taken)\b`), Confidence: 0.9, Outcome: "confirmed"},
	{Label: "every_morning", Pattern: re(`\b(take (it|them) every (morning|day|night)( with)?|always take)\b`), Confidence: 0.75, Outcome: "confirmed"},
	{Label: "will_do", Pattern: re(`\b(i('?ll| will) (take|do) (it|them|that)|will do|i'?ll get (to it|it done))\b`), Confidence: 0.9, Outcome: "acknowledged"},
	{Label: "ok_will", Pattern: re(`\b(okay,? i('?ll| will)|alright,? i('?ll| will)|sure,? i('?ll| will))\b`), Confidence: 0.85, Outcome: "acknowledged"},
	{Label: "right_after", Pattern: re(`\b(right after (lunch|dinner|breakfast|this)|in a (minute|bit|moment)|as soon as)\b`), Confidence: 0.75, Outcome: "acknowledged"},
	{Label: "thanks_reminder", Pattern: re(`\b(thanks? for (reminding me|the reminder)|good (thing you|you) reminded)\b`), Confidence: 0.9, Outcome: "acknowledged"},
	{Label: "getting_them", Pattern: re(`\b(let me (go )?(get|grab) (it|them|my pills?)|going to get (it|them) now)\b`), Confidence: 0.85, Outcome: "acknowledged"},
	{Label: "wrote_down", Pattern: re(`\b(wrote it (down|on the calendar)|it'?s on my (list|calendar)|marked it down)\b`), Confidence: 0.8, Outcome: "acknowledged"},
	{Label: "vague_ok", Pattern: re(`^\s*(okay|ok|alright|fine)[.!\s]*$`), Confidence: 0.5, Outcome: "acknowledged"},
	{Label: "vague_yes", Pattern: re(`^\s*(yes|yeah|yep)[.!\s]*$`), Confidence: 0.55, Outcome: "acknowledged"},
	{Label: "remembered", Pattern: re(`\b(i remember(ed)?|haven'?t forgotten|i know,? i know)\b`), Confidence: 0.65, Outcome: "acknowledged"},
}

// tag stamps cat onto every rule in rules.
func tag(cat Category, rules []Rule) []Rule {
	for i := range rules {
		rules[i].Category = cat
	}
	return rules
}

// allRules is the complete compiled rule table, built once at init.
var allRules = func() []Rule {
	groups := [][]Rule{
		tag(CategorySafety, safetyRules),
		tag(CategoryEndOfLife, endOfLifeRules),
		tag(CategoryADL, adlRules),
		tag(CategoryCognitive, cognitiveRules),
		tag(CategoryHydration, hydrationRules),
		tag(CategoryHealth, healthRules),
		tag(CategoryHelpRequest, helpRequestRules),
		tag(CategoryEmotion, emotionRules),
		tag(CategoryFamily, familyRules),
		tag(CategorySocial, socialRules),
		tag(CategoryActivities, activityRules),
		tag(CategoryTimeReference, timeReferenceRules),
		tag(CategoryEnvironment, environmentRules),
		tag(CategoryTransportation, transportationRules),
		tag(CategoryNews, newsRules),
		tag(CategoryGoodbye, goodbyeRules),
		tag(CategoryQuestion, questionRules),
		tag(CategoryEngagement, engagementRules),
		tag(CategoryAcknowledgment, acknowledgmentRules),
	}
	var all []Rule
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}()

// RuleCount reports the size of the compiled table.
func RuleCount() int { return len(allRules) }
