package elk

var ArmStatusDescriptions = map[ArmStatus]string{
	ArmStatusDisarmed:          "Disarmed",
	ArmStatusArmedAway:         "Armed Away",
	ArmStatusArmedStay:         "Armed Stay",
	ArmStatusArmedStayInstant:  "Armed Stay Instant",
	ArmStatusArmedNight:        "Armed Night",
	ArmStatusArmedNightInstant: "Armed Night Instant",
	ArmStatusArmedVacation:     "Armed Vacation",
}

var ArmUpStateDescriptions = map[ArmUpState]string{
	ArmUpNotReady:           "Not Ready To Arm",
	ArmUpReady:              "Ready To Arm",
	ArmUpReadyForce:         "Ready To Arm, but a zone is violated and can be Force Armed",
	ArmUpArmedWithExitTimer: "Armed with Exit Timer working",
	ArmUpArmedFully:         "Armed Fully",
	ArmUpForceArmedViolated: "Force Armed with a force arm zone violated",
	ArmUpArmedWithBypass:    "Armed with a bypass",
}

var AlarmStateDescriptions = map[AlarmState]string{
	AlarmNone:            "No Alarm Active",
	AlarmEntranceDelay:   "Entrance Delay is Active",
	AlarmAbortDelay:      "Alarm Abort Delay Active",
	AlarmFire:            "Fire Alarm",
	AlarmMedical:         "Medical Alarm",
	AlarmPolice:          "Police Alarm",
	AlarmBurglar:         "Burglar Alarm",
	AlarmAux1:            "Aux 1 Alarm",
	AlarmAux2:            "Aux 2 Alarm",
	AlarmAux3:            "Aux 3 Alarm",
	AlarmAux4:            "Aux 4 Alarm",
	AlarmCarbonMonoxide:  "Carbon Monoxide Alarm",
	AlarmEmergency:       "Emergency Alarm",
	AlarmFreeze:          "Freeze Alarm",
	AlarmGas:             "Gas Alarm",
	AlarmHeat:            "Heat Alarm",
	AlarmWater:           "Water Alarm",
	AlarmFireSupervisory: "Fire Supervisory",
	AlarmVerifyFire:      "Verify Fire",
}

var ArmModeDescriptions = map[ArmMode]string{
	ArmModeDisarm:       "Disarm",
	ArmModeAway:         "Arm Away",
	ArmModeStay:         "Arm Stay",
	ArmModeStayInstant:  "Arm Stay Instant",
	ArmModeNight:        "Arm Night",
	ArmModeNightInstant: "Arm Night Instant",
	ArmModeVacation:     "Arm Vacation",
	ArmModeNextAway:     "Arm Next Away",
	ArmModeNextStay:     "Arm Next Stay",
}

var DescriptionTypeDescriptions = map[DescriptionType]string{
	DescriptionZone:      "Zone",
	DescriptionArea:      "Area",
	DescriptionUser:      "User",
	DescriptionKeypad:    "Keypad",
	DescriptionOutput:    "Output",
	DescriptionTask:      "Task",
	DescriptionTelephone: "Telephone",
	DescriptionLight:     "Light",
}
